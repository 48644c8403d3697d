package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"photonix/internal/classify"
	"photonix/internal/classify/remote"
)

func TestPredictDecodesLocation(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"country":{"name":"Greece","code":"GR"},"city":{"name":"Firá","distance":0.4,"population":1500,"country_name":"Greece"}}`))
	}))
	defer srv.Close()

	lat, lon := 36.4167, 25.4333
	model := remote.New(classify.KindLocation, srv.URL+"/", 5*time.Second, false)
	if _, ok := model.(classify.BatchModel); ok {
		t.Fatal("non-batch client should not implement BatchModel")
	}
	result, err := model.Predict(context.Background(), classify.Input{PhotoID: "p1", Path: "/tmp/tree.jpg", Latitude: &lat, Longitude: &lon})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if result.Place == nil || result.Place.Country != "Greece" || result.Place.CountryCode != "GR" || result.Place.City != "Firá" {
		t.Fatalf("unexpected place %+v", result.Place)
	}
	if got["photo_id"] != "p1" || got["latitude"] != lat {
		t.Fatalf("unexpected request body %v", got)
	}
}

func TestPredictDecodesDetectionsWithBoxes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[{"label":"Tree","score":0.602,"significance":0.134,"x":0.787,"y":0.374,"width":0.34,"height":0.655},{"label":"Car","score":0.5,"significance":0.1}]}`))
	}))
	defer srv.Close()

	result, err := remote.New(classify.KindObject, srv.URL, time.Second, false).Predict(context.Background(), classify.Input{PhotoID: "p1"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(result.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %+v", result.Detections)
	}
	if box := result.Detections[0].Box; box == nil || box.X != 0.787 || box.Height != 0.655 {
		t.Fatalf("unexpected box %+v", box)
	}
	if result.Detections[1].Box != nil {
		t.Fatal("detection without coordinates should have no box")
	}
}

func TestPredictReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := remote.New(classify.KindStyle, srv.URL, time.Second, false).Predict(context.Background(), classify.Input{PhotoID: "p1"})
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestPredictBatch(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/predict/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Inputs []struct {
				PhotoID string `json:"photo_id"`
			} `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		results := make([]map[string]any, len(body.Inputs))
		for i := range body.Inputs {
			results[i] = map[string]any{"labels": []map[string]any{{"label": "serene", "score": 0.99}}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	model, ok := remote.New(classify.KindStyle, srv.URL, time.Second, true).(classify.BatchModel)
	if !ok {
		t.Fatal("batch client should implement BatchModel")
	}
	inputs := []classify.Input{{PhotoID: "a"}, {PhotoID: "b"}, {PhotoID: "c"}}
	results, err := model.PredictBatch(context.Background(), inputs)
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if requests != 1 || len(results) != 3 {
		t.Fatalf("expected one request with 3 results, got %d requests and %d results", requests, len(results))
	}
	if results[2].Labels[0].Name != "serene" {
		t.Fatalf("unexpected result %+v", results[2])
	}
}

func TestPredictBatchRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"labels":[]}]}`))
	}))
	defer srv.Close()

	model := remote.New(classify.KindStyle, srv.URL, time.Second, true).(classify.BatchModel)
	if _, err := model.PredictBatch(context.Background(), []classify.Input{{PhotoID: "a"}, {PhotoID: "b"}}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

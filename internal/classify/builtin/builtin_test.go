package builtin_test

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"photonix/internal/classify"
	"photonix/internal/classify/builtin"
	"photonix/internal/testsupport"
)

func TestColorModelRanksDominantColour(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.jpg")
	testsupport.WriteJPEG(t, path, 200, 100, color.NRGBA{R: 250, G: 10, B: 10, A: 255})

	result, err := builtin.NewColorModel().Predict(context.Background(), classify.Input{Path: path})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(result.Labels) == 0 {
		t.Fatal("expected at least one colour")
	}
	if result.Labels[0].Name != "Red" || result.Labels[0].Score < 0.9 {
		t.Fatalf("unexpected top colour %+v", result.Labels[0])
	}
	for i := 1; i < len(result.Labels); i++ {
		if result.Labels[i].Score > result.Labels[i-1].Score {
			t.Fatalf("labels not ranked: %+v", result.Labels)
		}
		if result.Labels[i].Score < builtin.MinColorShare {
			t.Fatalf("label below threshold kept: %+v", result.Labels[i])
		}
	}
}

func TestColorModelMissingFile(t *testing.T) {
	_, err := builtin.NewColorModel().Predict(context.Background(), classify.Input{Path: filepath.Join(t.TempDir(), "missing.jpg")})
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestEventModel(t *testing.T) {
	model := builtin.NewEventModel()
	cases := []struct {
		name  string
		taken *time.Time
		want  string
	}{
		{"christmas", ptr(time.Date(2024, 12, 25, 9, 0, 0, 0, time.UTC)), builtin.EventChristmas},
		{"new year's eve evening", ptr(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)), builtin.EventNewYear},
		{"new year's day", ptr(time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)), builtin.EventNewYear},
		{"new year's eve morning", ptr(time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC)), ""},
		{"halloween", ptr(time.Date(2023, 10, 31, 20, 0, 0, 0, time.UTC)), builtin.EventHalloween},
		{"valentine", ptr(time.Date(2023, 2, 14, 20, 0, 0, 0, time.UTC)), builtin.EventValentine},
		{"ordinary day", ptr(time.Date(2023, 6, 3, 12, 0, 0, 0, time.UTC)), ""},
		{"no capture time", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := model.Predict(context.Background(), classify.Input{TakenAt: tc.taken})
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if tc.want == "" {
				if !result.Empty() {
					t.Fatalf("expected no labels, got %+v", result.Labels)
				}
				return
			}
			if len(result.Labels) != 1 || result.Labels[0].Name != tc.want || result.Labels[0].Score != 1 {
				t.Fatalf("expected %q, got %+v", tc.want, result.Labels)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

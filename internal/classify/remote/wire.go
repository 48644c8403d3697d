package remote

import (
	"time"

	"photonix/internal/catalog"
	"photonix/internal/classify"
)

type wireInput struct {
	PhotoID   string     `json:"photo_id"`
	Path      string     `json:"path"`
	TakenAt   *time.Time `json:"taken_at,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
}

type wireBox struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

func (b wireBox) box() *catalog.Box {
	if b.X == nil || b.Y == nil || b.Width == nil || b.Height == nil {
		return nil
	}
	return &catalog.Box{X: *b.X, Y: *b.Y, Width: *b.Width, Height: *b.Height}
}

// wireLabel and wireDetection share the "label" key.
type wireLabel struct {
	Name  string  `json:"label"`
	Score float64 `json:"score"`
}

type wireDetection struct {
	wireBox
	Label        string  `json:"label"`
	Score        float64 `json:"score"`
	Significance float64 `json:"significance"`
}

type wireFace struct {
	wireBox
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

type wireCountry struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type wireCity struct {
	Name        string  `json:"name"`
	Distance    float64 `json:"distance"`
	Population  int64   `json:"population"`
	CountryName string  `json:"country_name"`
}

type wireResult struct {
	Labels     []wireLabel     `json:"labels"`
	Detections []wireDetection `json:"detections"`
	Faces      []wireFace      `json:"faces"`
	Country    *wireCountry    `json:"country"`
	City       *wireCity       `json:"city"`
	Error      string          `json:"error,omitempty"`
}

type batchRequest struct {
	Inputs []wireInput `json:"inputs"`
}

type batchResponse struct {
	Results []wireResult `json:"results"`
}

func toWire(input classify.Input) wireInput {
	return wireInput{
		PhotoID:   input.PhotoID,
		Path:      input.Path,
		TakenAt:   input.TakenAt,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	}
}

func (w wireResult) result() classify.Result {
	var out classify.Result
	for _, label := range w.Labels {
		out.Labels = append(out.Labels, classify.Label{Name: label.Name, Score: label.Score})
	}
	for _, det := range w.Detections {
		out.Detections = append(out.Detections, classify.Detection{
			Label:        det.Label,
			Score:        det.Score,
			Significance: det.Significance,
			Box:          det.box(),
		})
	}
	for _, face := range w.Faces {
		out.Faces = append(out.Faces, classify.FaceMatch{Name: face.Name, Distance: face.Distance, Box: face.box()})
	}
	if w.Country != nil && w.Country.Name != "" {
		out.Place = &classify.Place{Country: w.Country.Name, CountryCode: w.Country.Code}
		if w.City != nil {
			out.Place.City = w.City.Name
		}
	}
	return out
}

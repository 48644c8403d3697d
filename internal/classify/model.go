package classify

import (
	"context"
	"time"

	"photonix/internal/catalog"
)

// Input is what a model sees for one photo.
type Input struct {
	PhotoID   string
	FileID    string
	Path      string
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
}

// HasLocation reports whether both coordinates are known.
func (in Input) HasLocation() bool {
	return in.Latitude != nil && in.Longitude != nil
}

// Label is a ranked name with a score in [0, 1].
type Label struct {
	Name  string
	Score float64
}

// Detection is a located object.
type Detection struct {
	Label        string
	Score        float64
	Significance float64
	Box          *catalog.Box
}

// Place is a reverse-geocoded location.
type Place struct {
	Country     string
	CountryCode string
	City        string
}

// FaceMatch is a detected face with its nearest known identity. Name is
// empty when no identity is close enough.
type FaceMatch struct {
	Name     string
	Distance float64
	Box      *catalog.Box
}

// Result holds whatever a model produced. Each kind fills the part it owns.
type Result struct {
	Labels     []Label
	Detections []Detection
	Place      *Place
	Faces      []FaceMatch
}

// Empty reports whether the model found nothing.
func (r Result) Empty() bool {
	return len(r.Labels) == 0 && len(r.Detections) == 0 && r.Place == nil && len(r.Faces) == 0
}

// Model predicts over a single photo. Implementations must be safe for
// concurrent use by the batch processor's workers.
type Model interface {
	Predict(ctx context.Context, input Input) (Result, error)
}

// BatchModel is implemented by models that can predict a slice of inputs in
// one call. Results are positional.
type BatchModel interface {
	Model
	PredictBatch(ctx context.Context, inputs []Input) ([]Result, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, input Input) (Result, error)

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, input Input) (Result, error) {
	return f(ctx, input)
}

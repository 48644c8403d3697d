package classify

import (
	"math"
	"strings"

	"photonix/internal/catalog"
)

// UnknownFaceName labels faces with no matching identity.
const UnknownFaceName = "Unknown person"

const (
	countryWeight = 1.0
	cityWeight    = 0.5
)

// Adapter converts a model result into tags of the classifier's type.
type Adapter func(Result) []catalog.TagInput

// DefaultAdapter returns the adapter used for kind when a classifier is
// registered without one.
func DefaultAdapter(kind Kind) Adapter {
	switch kind {
	case KindObject:
		return adaptDetections
	case KindLocation:
		return adaptPlace
	case KindFace:
		return adaptFaces
	default:
		return adaptLabels
	}
}

// adaptLabels uses the label score as both confidence and significance.
func adaptLabels(result Result) []catalog.TagInput {
	tags := make([]catalog.TagInput, 0, len(result.Labels))
	for _, label := range result.Labels {
		if strings.TrimSpace(label.Name) == "" {
			continue
		}
		tags = append(tags, catalog.TagInput{
			Name:         label.Name,
			Confidence:   clamp01(label.Score),
			Significance: clamp01(label.Score),
		})
	}
	return tags
}

func adaptDetections(result Result) []catalog.TagInput {
	tags := make([]catalog.TagInput, 0, len(result.Detections))
	for _, det := range result.Detections {
		if strings.TrimSpace(det.Label) == "" {
			continue
		}
		tags = append(tags, catalog.TagInput{
			Name:         det.Label,
			Confidence:   clamp01(det.Score),
			Significance: clamp01(det.Significance),
			Box:          det.Box,
		})
	}
	return tags
}

// adaptPlace emits the country and, nested under it, the city.
func adaptPlace(result Result) []catalog.TagInput {
	place := result.Place
	if place == nil || place.Country == "" {
		return nil
	}
	tags := []catalog.TagInput{{Name: place.Country, Confidence: countryWeight, Significance: countryWeight}}
	if place.City != "" {
		tags = append(tags, catalog.TagInput{
			Name:         place.City,
			Parent:       place.Country,
			Confidence:   cityWeight,
			Significance: cityWeight,
		})
	}
	return tags
}

// adaptFaces turns the embedding distance into a confidence.
func adaptFaces(result Result) []catalog.TagInput {
	tags := make([]catalog.TagInput, 0, len(result.Faces))
	for _, face := range result.Faces {
		name := strings.TrimSpace(face.Name)
		confidence := clamp01(1 - face.Distance)
		if name == "" {
			name = UnknownFaceName
			confidence = 0
		}
		tags = append(tags, catalog.TagInput{
			Name:         name,
			Confidence:   confidence,
			Significance: boxArea(face.Box),
			Box:          face.Box,
		})
	}
	return tags
}

func boxArea(box *catalog.Box) float64 {
	if box == nil {
		return 0
	}
	return clamp01(box.Width * box.Height)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

package builtin

import (
	"context"
	"fmt"
	"sort"

	"github.com/disintegration/imaging"

	"photonix/internal/classify"
)

const (
	colorSampleWidth = 64
	// MinColorShare drops colours covering less of the image than this.
	MinColorShare = 0.01
)

type namedColor struct {
	name    string
	r, g, b int
}

var palette = []namedColor{
	{"Red", 255, 0, 0},
	{"Orange", 255, 127, 0},
	{"Amber", 255, 191, 0},
	{"Yellow", 255, 255, 0},
	{"Lime", 191, 255, 0},
	{"Green", 0, 128, 0},
	{"Teal", 0, 128, 128},
	{"Turquoise", 64, 224, 208},
	{"Azure", 0, 127, 255},
	{"Blue", 0, 0, 255},
	{"Purple", 128, 0, 128},
	{"Magenta", 255, 0, 255},
	{"Orchid", 218, 112, 214},
	{"Brown", 150, 75, 0},
	{"White", 255, 255, 255},
	{"Gray", 128, 128, 128},
	{"Black", 0, 0, 0},
}

// ColorModel ranks the named colours of an image by the share of pixels
// closest to each.
type ColorModel struct{}

// NewColorModel returns the colour model.
func NewColorModel() *ColorModel { return &ColorModel{} }

// Predict decodes the image at input.Path.
func (m *ColorModel) Predict(ctx context.Context, input classify.Input) (classify.Result, error) {
	if err := ctx.Err(); err != nil {
		return classify.Result{}, err
	}
	img, err := imaging.Open(input.Path, imaging.AutoOrientation(true))
	if err != nil {
		return classify.Result{}, fmt.Errorf("open image: %w", err)
	}
	sample := imaging.Resize(img, colorSampleWidth, 0, imaging.Box)

	counts := make([]int, len(palette))
	bounds := sample.Bounds()
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := sample.PixOffset(x, y)
			counts[nearestColor(int(sample.Pix[i]), int(sample.Pix[i+1]), int(sample.Pix[i+2]))]++
			total++
		}
	}
	if total == 0 {
		return classify.Result{}, nil
	}

	labels := make([]classify.Label, 0, len(palette))
	for i, count := range counts {
		share := float64(count) / float64(total)
		if share < MinColorShare {
			continue
		}
		labels = append(labels, classify.Label{Name: palette[i].name, Score: share})
	}
	sort.SliceStable(labels, func(a, b int) bool { return labels[a].Score > labels[b].Score })
	return classify.Result{Labels: labels}, nil
}

func nearestColor(r, g, b int) int {
	best, bestDist := 0, -1
	for i, c := range palette {
		dr, dg, db := r-c.r, g-c.g, b-c.b
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

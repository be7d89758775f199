package healing

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg" // 注册 JPEG 解码
	_ "image/png"  // 注册 PNG 解码
	"math"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/types"
)

// thumbSize is the side of the grayscale thumbnail compared per region.
const thumbSize = 8

// visualPositionWeight is the share of the position score kept in a visual candidate.
const visualPositionWeight = 0.3

type thumbnail [thumbSize * thumbSize]float64

// Visual refines position candidates by comparing the last known region of
// the prior screenshot with each candidate's region of the current one.
// Screenshot pixels are assumed to be CSS pixels.
func Visual(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
	if in.LastKnownBox == nil || len(in.Screenshot) == 0 || len(in.PriorScreenshot) == 0 {
		return nil, nil
	}
	prior, err := decodeImage(in.PriorScreenshot)
	if err != nil {
		return nil, err
	}
	current, err := decodeImage(in.Screenshot)
	if err != nil {
		return nil, err
	}
	ref, ok := thumb(prior, *in.LastKnownBox)
	if !ok {
		return nil, errors.New("last known box is outside the prior screenshot")
	}

	positions, err := Position(ctx, in)
	if err != nil {
		return nil, err
	}
	byLocator := make(map[string]float64, len(positions))
	for _, c := range positions {
		byLocator[c.Selector] = c.Confidence
	}

	return scoreElements(ctx, in, types.StrategyVisual, func(el browser.PageElement) float64 {
		if el.BoundingBox == nil {
			return 0
		}
		pos, ok := byLocator[in.locate(el)]
		if !ok {
			return 0
		}
		t, ok := thumb(current, *el.BoundingBox)
		if !ok {
			return 0
		}
		return (1-visualPositionWeight)*ref.similarity(t) + visualPositionWeight*pos
	})
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// thumb averages the grayscale value of box into an 8x8 grid.
func thumb(img image.Image, box types.BoundingBox) (thumbnail, bool) {
	var t thumbnail
	r := image.Rect(
		int(math.Floor(box.X)), int(math.Floor(box.Y)),
		int(math.Ceil(box.X+box.Width)), int(math.Ceil(box.Y+box.Height)),
	).Intersect(img.Bounds())
	if r.Empty() {
		return t, false
	}

	w, h := r.Dx(), r.Dy()
	for cy := 0; cy < thumbSize; cy++ {
		y0, y1 := r.Min.Y+cy*h/thumbSize, r.Min.Y+(cy+1)*h/thumbSize
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for cx := 0; cx < thumbSize; cx++ {
			x0, x1 := r.Min.X+cx*w/thumbSize, r.Min.X+(cx+1)*w/thumbSize
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sum float64
			var n int
			for y := y0; y < y1 && y < r.Max.Y; y++ {
				for x := x0; x < x1 && x < r.Max.X; x++ {
					sum += float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
					n++
				}
			}
			if n > 0 {
				t[cy*thumbSize+cx] = sum / float64(n)
			}
		}
	}
	return t, true
}

// similarity is 1 minus the mean absolute difference scaled to [0,1].
func (t thumbnail) similarity(o thumbnail) float64 {
	var diff float64
	for i := range t {
		diff += math.Abs(t[i] - o[i])
	}
	return types.Clamp01(1 - diff/float64(len(t))/255)
}

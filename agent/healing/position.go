package healing

import (
	"context"
	"math"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/types"
)

// PositionScore is 1 minus the distance between box centres normalised by
// diagonal, clamped to [0,1].
func PositionScore(last, box types.BoundingBox, diagonal float64) float64 {
	if diagonal <= 0 {
		return 0
	}
	return types.Clamp01(1 - last.Distance(box)/diagonal)
}

// Position scores elements by proximity to the last known bounding box.
func Position(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
	if in.LastKnownBox == nil || in.Page == nil {
		return nil, nil
	}
	diag := pageDiagonal(in.Page, *in.LastKnownBox)
	last := *in.LastKnownBox
	return scoreElements(ctx, in, types.StrategyPosition, func(el browser.PageElement) float64 {
		if el.BoundingBox == nil || el.BoundingBox.Empty() {
			return 0
		}
		return PositionScore(last, *el.BoundingBox, diag)
	})
}

// pageDiagonal prefers the viewport; without one it spans every known box.
func pageDiagonal(page *browser.PageState, last types.BoundingBox) float64 {
	if d := page.Viewport.Diagonal(); d > 0 {
		return d
	}
	maxX, maxY := last.X+last.Width, last.Y+last.Height
	for _, el := range page.Elements {
		if b := el.BoundingBox; b != nil {
			maxX = math.Max(maxX, b.X+b.Width)
			maxY = math.Max(maxY, b.Y+b.Height)
		}
	}
	return math.Hypot(maxX, maxY)
}

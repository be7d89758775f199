package execution

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/agent/recovery"
	"github.com/BaSui01/autoheal/types"
	"go.uber.org/zap"
)

// landmarkCapacity bounds the number of remembered selectors.
const landmarkCapacity = 256

// PageObserver exposes the read-only page calls used to remember where a
// target was last seen. Executors that also implement it are picked up by New.
type PageObserver interface {
	Resolve(ctx context.Context, selector string) (*browser.Resolution, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Landmark is where a selector last resolved during a successful attempt.
type Landmark struct {
	Box types.BoundingBox
	// Screenshot is the page captured right after that attempt, nil when disabled or unavailable.
	Screenshot []byte
	SeenAt     time.Time
}

// landmarks 按选择器保存最近一次成功位置，超出容量时淘汰最旧的条目
type landmarks struct {
	mu    sync.Mutex
	cap   int
	items map[string]Landmark
}

func newLandmarks(capacity int) *landmarks {
	return &landmarks{cap: capacity, items: make(map[string]Landmark)}
}

func (lm *landmarks) get(selector string) (Landmark, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	v, ok := lm.items[selector]
	return v, ok
}

func (lm *landmarks) put(selector string, v Landmark) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, ok := lm.items[selector]; !ok && len(lm.items) >= lm.cap {
		var oldest string
		var oldestAt time.Time
		for k, item := range lm.items {
			if oldest == "" || item.SeenAt.Before(oldestAt) {
				oldest, oldestAt = k, item.SeenAt
			}
		}
		delete(lm.items, oldest)
	}
	lm.items[selector] = v
}

// Landmark returns where selector was last seen by a successful attempt.
func (l *Loop) Landmark(selector string) (Landmark, bool) {
	return l.landmarks.get(selector)
}

// Prime copies the remembered box and screenshot for the context's selector
// into rc so position and visual healing can run.
func (l *Loop) Prime(rc *recovery.Context) {
	if rc == nil || rc.LastKnownBox != nil {
		return
	}
	lm, ok := l.landmarks.get(rc.Selector)
	if !ok {
		return
	}
	box := lm.Box
	rc.LastKnownBox = &box
	if len(rc.PriorScreenshot) == 0 {
		rc.PriorScreenshot = lm.Screenshot
	}
}

// remember records where the working selector resolved. Failures only cost
// the position hint, so they are logged and dropped.
func (l *Loop) remember(ctx context.Context, r *run) {
	if l.observer == nil || r.rc.Selector == "" {
		return
	}
	res, err := l.observer.Resolve(ctx, r.rc.Selector)
	if err != nil || !res.Found() || res.Element.BoundingBox == nil || res.Element.BoundingBox.Empty() {
		if err != nil {
			r.logger.Debug("landmark resolve failed", zap.Error(err))
		}
		return
	}

	lm := Landmark{Box: *res.Element.BoundingBox, SeenAt: time.Now()}
	if l.config.LandmarkScreenshots {
		if shot, err := l.observer.Screenshot(ctx); err == nil {
			lm.Screenshot = shot
		} else {
			r.logger.Debug("landmark screenshot unavailable", zap.Error(err))
		}
	}
	l.landmarks.put(r.rc.Selector, lm)
	if r.inv.Selector != "" && r.inv.Selector != r.rc.Selector {
		l.landmarks.put(r.inv.Selector, lm)
	}
}

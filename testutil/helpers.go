// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数、页面夹具与截图构造
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// AssertConfidence 断言置信度落在 [0,1]
func AssertConfidence(t *testing.T, c float64) {
	t.Helper()
	if c < 0 || c > 1 {
		t.Errorf("confidence %v outside [0,1]", c)
	}
}

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Samples 生成同一 key 的成功样本，耗时以毫秒给出
func Samples(key string, kind types.SampleKind, millis ...int) []types.HistoricalSample {
	out := make([]types.HistoricalSample, len(millis))
	for i, ms := range millis {
		out[i] = types.HistoricalSample{
			Key:      key,
			Kind:     kind,
			Duration: time.Duration(ms) * time.Millisecond,
			Success:  true,
		}
	}
	return out
}

// =============================================================================
// 🖼️ 截图构造
// =============================================================================

// Region 是截图中填充为固定灰度的矩形
type Region struct {
	Box  types.BoundingBox
	Gray uint8
}

// PNG 生成 w×h 的灰度截图：背景为 background，regions 依次覆盖
func PNG(w, h int, background uint8, regions ...Region) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = background
	}
	for _, r := range regions {
		rect := image.Rect(int(r.Box.X), int(r.Box.Y), int(r.Box.X+r.Box.Width), int(r.Box.Y+r.Box.Height)).Intersect(img.Bounds())
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: r.Gray})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

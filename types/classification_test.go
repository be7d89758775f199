package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind_StringAndParse(t *testing.T) {
	t.Parallel()

	for _, k := range AllErrorKinds() {
		parsed, err := ParseErrorKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	assert.Len(t, AllErrorKinds(), 10)
	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())

	_, err := ParseErrorKind("Meltdown")
	assert.Error(t, err)
}

func TestErrorKind_JSON(t *testing.T) {
	t.Parallel()

	c := ErrorClassification{Kind: KindSelectorNotFound, Confidence: 0.9}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"SelectorNotFound"`)

	var back ErrorClassification
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindSelectorNotFound, back.Kind)
}

func TestErrorClassification_IsRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    ErrorClassification
		want bool
	}{
		{"unknown never recoverable", ErrorClassification{Kind: KindUnknown, Confidence: 1}, false},
		{"below threshold", ErrorClassification{Kind: KindTransient, Confidence: 0.69}, false},
		{"at threshold", ErrorClassification{Kind: KindTransient, Confidence: 0.7}, true},
		{"high confidence", ErrorClassification{Kind: KindPageCrash, Confidence: 0.95}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.IsRecoverable())
		})
	}
}

func TestParseRecoveryAction(t *testing.T) {
	t.Parallel()

	a, err := ParseRecoveryAction("pagerefresh")
	require.NoError(t, err)
	assert.Equal(t, ActionPageRefresh, a)

	_, err = ParseRecoveryAction("Reboot")
	assert.Error(t, err)
}

func TestRecoveryAttempt_Sample(t *testing.T) {
	t.Parallel()

	attempt := RecoveryAttempt{
		Action:         ActionPageRefresh,
		ActionsTried:   []RecoveryAction{ActionWaitAndRetry, ActionPageRefresh},
		Success:        true,
		Classification: ErrorClassification{Kind: KindNetworkError, Confidence: 0.85},
	}
	s := attempt.Sample()
	assert.Equal(t, "recovery:NetworkError", s.Key)
	assert.Equal(t, SampleRecovery, s.Kind)
	assert.Equal(t, "PageRefresh", s.Outcome)
	assert.True(t, s.Success)
	assert.False(t, s.Timestamp.IsZero())
}

func TestToolInvocation_Immutable(t *testing.T) {
	t.Parallel()

	params := map[string]any{"text": "hello"}
	inv := NewToolInvocation("type", "#q", params)
	params["text"] = "changed"

	assert.Equal(t, "hello", inv.StringParam("text"))
	assert.NotEmpty(t, inv.CorrelationID)

	healed := inv.WithSelector("#search")
	healed.Params["text"] = "other"
	assert.Equal(t, "#q", inv.Selector)
	assert.Equal(t, "hello", inv.StringParam("text"))
	assert.Equal(t, inv.CorrelationID, healed.CorrelationID)
	assert.Equal(t, "", inv.StringParam("missing"))
}

func TestBoundingBox(t *testing.T) {
	t.Parallel()

	b := BoundingBox{X: 10, Y: 20, Width: 100, Height: 40}
	x, y := b.Center()
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 40.0, y)
	assert.InDelta(t, 5.0, b.Distance(BoundingBox{X: 13, Y: 24, Width: 100, Height: 40}), 1e-9)
	assert.True(t, BoundingBox{}.Empty())
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(2))
}

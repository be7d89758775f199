package smartwait

import (
	"testing"

	"github.com/BaSui01/autoheal/agent/stability"
	"github.com/stretchr/testify/assert"
)

func TestConditions(t *testing.T) {
	settled := stability.Metrics{
		DOMStable:          true,
		NetworkIdle:        true,
		AnimationsComplete: true,
		NoLoaders:          true,
		ScriptsIdle:        true,
		Score:              1,
	}
	busy := stability.Metrics{Score: 0.4}

	for _, c := range []Condition{DomStable(), NetworkIdle(), AnimationsComplete(), NoLoaders(), ScriptsIdle(), ScoreAtLeast(0.9)} {
		assert.True(t, c.Met(settled), c.Name)
		assert.False(t, c.Met(busy), c.Name)
	}
}

func TestAllAny(t *testing.T) {
	m := stability.Metrics{DOMStable: true, NetworkIdle: false, Score: 0.7}

	both := All(DomStable(), NetworkIdle())
	either := Any(DomStable(), NetworkIdle())
	assert.False(t, both.Met(m))
	assert.True(t, either.Met(m))
	assert.Equal(t, "all(dom_stable,network_idle)", both.Name)
	assert.Equal(t, "any(dom_stable,network_idle)", either.Name)

	assert.True(t, All().Met(m))
	assert.False(t, Any().Met(m))

	nested := Any(All(DomStable(), ScoreAtLeast(0.5)), NoLoaders())
	assert.True(t, nested.Met(m))
	assert.Equal(t, "any(all(dom_stable,score>=0.50),no_loaders)", nested.Name)
}

func TestStableCondition(t *testing.T) {
	c := Stable(0.9)
	assert.True(t, c.Met(stability.Metrics{DOMStable: true, NetworkIdle: true, NoLoaders: true, Score: 0.92}))
	assert.False(t, c.Met(stability.Metrics{DOMStable: true, NetworkIdle: true, NoLoaders: true, Score: 0.85}))
	assert.False(t, c.Met(stability.Metrics{DOMStable: true, NoLoaders: true, Score: 1}))
}

package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "raw_sockets", RawSockets.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestGateNoneAlwaysSatisfied(t *testing.T) {
	g := NewGate()
	assert.True(t, g.Satisfies(None))
}

func TestStaticGate(t *testing.T) {
	assert.True(t, NewStaticGate(true).Satisfies(RawSockets))
	assert.False(t, NewStaticGate(false).Satisfies(RawSockets))
	assert.True(t, NewStaticGate(false).Satisfies(None))
}

func TestGateCachesAnswer(t *testing.T) {
	g := NewGate()
	first := g.Satisfies(RawSockets)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Satisfies(RawSockets))
	}
}

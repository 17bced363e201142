package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("step", "agent", "intake", 42, "dropped", "ch", make(chan int), "dangling")
	entries := logs.All()
	assert.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "intake", ctx["agent"])
	assert.Equal(t, "<chan int>", ctx["ch"])
	assert.NotContains(t, ctx, "dangling")
	assert.Len(t, ctx, 2)

	with := l.(*ZapAdapter).With("run_id", "r1")
	with.Warn("late", "nil", nil)
	last := logs.All()[1].ContextMap()
	assert.Equal(t, "r1", last["run_id"])
	assert.Equal(t, "<nil>", last["nil"])
}

package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quotabar/quotabar/pkg/store"
)

func TestCooldownGateAllowsByDefault(t *testing.T) {
	g := NewCooldownGate(store.NewMemoryStateStore())

	assert.True(t, g.ShouldAllowPrompt(context.Background(), time.Now()))
}

func TestCooldownGateDenialStartsWindow(t *testing.T) {
	ctx := context.Background()
	g := NewCooldownGate(store.NewMemoryStateStore())

	now := time.Now()
	g.RecordDenied(ctx, now)

	assert.False(t, g.ShouldAllowPrompt(ctx, now.Add(time.Minute)))
	assert.False(t, g.ShouldAllowPrompt(ctx, now.Add(AccessCooldown-time.Second)))
	assert.True(t, g.ShouldAllowPrompt(ctx, now.Add(AccessCooldown)))
}

func TestCooldownGatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStateStore()

	now := time.Now()
	NewCooldownGate(st).RecordDenied(ctx, now)

	// A fresh gate on the same store still honors the cooldown.
	g := NewCooldownGate(st)
	assert.False(t, g.ShouldAllowPrompt(ctx, now.Add(time.Hour)))
	assert.True(t, g.ShouldAllowPrompt(ctx, now.Add(AccessCooldown+time.Second)))
}

func TestCooldownGateDisabled(t *testing.T) {
	g := NewCooldownGate(store.NewMemoryStateStore())
	g.Disabled = true

	assert.False(t, g.ShouldAllowPrompt(context.Background(), time.Now()))
}

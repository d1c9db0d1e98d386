package gate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/store"
)

// stubFingerprinter serves a swappable fingerprint and counts calls.
type stubFingerprinter struct {
	fp    credential.Fingerprint
	calls int
}

func (s *stubFingerprinter) Fingerprint(ctx context.Context, id provider.ID) credential.Fingerprint {
	s.calls++
	return s.fp
}

func knownFingerprint(hash string) credential.Fingerprint {
	return credential.Fingerprint{FileHash: hash}
}

func TestRefreshGateOpenByDefault(t *testing.T) {
	g := NewRefreshGate(provider.Claude, store.NewMemoryStateStore(), &stubFingerprinter{})

	assert.True(t, g.ShouldAttempt(context.Background(), time.Now()))
	assert.False(t, g.Blocked(context.Background()))
}

func TestRefreshGateTimeAloneNeverUnblocks(t *testing.T) {
	ctx := context.Background()
	fp := &stubFingerprinter{fp: knownFingerprint("aaa")}
	g := NewRefreshGate(provider.Claude, store.NewMemoryStateStore(), fp)

	now := time.Now()
	g.RecordAuthFailure(ctx, now)
	require.True(t, g.Blocked(ctx))

	// Fingerprint unchanged: even a week later the gate stays shut.
	assert.False(t, g.ShouldAttempt(ctx, now.Add(time.Minute)))
	assert.False(t, g.ShouldAttempt(ctx, now.Add(24*time.Hour)))
	assert.False(t, g.ShouldAttempt(ctx, now.Add(7*24*time.Hour)))
	assert.True(t, g.Blocked(ctx))
}

func TestRefreshGateUnblocksOnFingerprintChange(t *testing.T) {
	ctx := context.Background()
	fp := &stubFingerprinter{fp: knownFingerprint("aaa")}
	g := NewRefreshGate(provider.Claude, store.NewMemoryStateStore(), fp)

	now := time.Now()
	g.RecordAuthFailure(ctx, now)
	require.False(t, g.ShouldAttempt(ctx, now.Add(FingerprintRecheckInterval)))

	fp.fp = knownFingerprint("bbb")
	assert.True(t, g.ShouldAttempt(ctx, now.Add(2*FingerprintRecheckInterval)))
	assert.False(t, g.Blocked(ctx))

	// Once open it stays open without further fingerprint reads.
	calls := fp.calls
	assert.True(t, g.ShouldAttempt(ctx, now.Add(3*FingerprintRecheckInterval)))
	assert.Equal(t, calls, fp.calls)
}

func TestRefreshGateUnknownToKnownUnblocks(t *testing.T) {
	// A gate blocked while fingerprinting was unavailable must open as
	// soon as a fingerprint becomes observable.
	ctx := context.Background()
	fp := &stubFingerprinter{} // zero fingerprint: unknown
	g := NewRefreshGate(provider.Codex, store.NewMemoryStateStore(), fp)

	now := time.Now()
	g.RecordAuthFailure(ctx, now)
	require.True(t, g.Blocked(ctx))

	fp.fp = knownFingerprint("ccc")
	assert.True(t, g.ShouldAttempt(ctx, now.Add(FingerprintRecheckInterval)))
}

func TestRefreshGateRecheckThrottle(t *testing.T) {
	ctx := context.Background()
	fp := &stubFingerprinter{fp: knownFingerprint("aaa")}
	g := NewRefreshGate(provider.Claude, store.NewMemoryStateStore(), fp)

	now := time.Now()
	g.RecordAuthFailure(ctx, now)
	calls := fp.calls

	// Inside the throttle window the fingerprint is not re-derived even
	// though it has changed on disk.
	fp.fp = knownFingerprint("bbb")
	assert.False(t, g.ShouldAttempt(ctx, now.Add(FingerprintRecheckInterval-time.Second)))
	assert.Equal(t, calls, fp.calls)

	// ForceRecheck bypasses the throttle.
	g.ForceRecheck()
	assert.True(t, g.ShouldAttempt(ctx, now.Add(FingerprintRecheckInterval-time.Second)))
	assert.Greater(t, fp.calls, calls)
}

func TestRefreshGateRecordSuccessClears(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStateStore()
	g := NewRefreshGate(provider.Claude, st, &stubFingerprinter{fp: knownFingerprint("aaa")})

	g.RecordAuthFailure(ctx, time.Now())
	g.RecordSuccess(ctx)
	g.RecordSuccess(ctx) // idempotent

	assert.False(t, g.Blocked(ctx))
	assert.True(t, g.ShouldAttempt(ctx, time.Now()))

	// The persisted record is gone, not just rewritten as open.
	_, ok, err := st.Get(ctx, "gate/refresh/claude")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshGateStatePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStateStore()
	fp := &stubFingerprinter{fp: knownFingerprint("aaa")}

	g1 := NewRefreshGate(provider.Gemini, st, fp)
	g1.RecordAuthFailure(ctx, time.Now())

	g2 := NewRefreshGate(provider.Gemini, st, fp)
	assert.True(t, g2.Blocked(ctx))
	assert.False(t, g2.ShouldAttempt(ctx, time.Now().Add(time.Hour)))
}

func TestRefreshGateLegacyMigration(t *testing.T) {
	ctx := context.Background()

	t.Run("expired backoff loads open", func(t *testing.T) {
		st := store.NewMemoryStateStore()
		past := time.Now().Add(-time.Hour)
		data, err := json.Marshal(map[string]any{"blocked_until": past})
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, "gate/refresh/claude", data))

		g := NewRefreshGate(provider.Claude, st, &stubFingerprinter{})
		assert.True(t, g.ShouldAttempt(ctx, time.Now()))
		assert.False(t, g.Blocked(ctx))
	})

	t.Run("active backoff loads blocked with unknown fingerprint", func(t *testing.T) {
		st := store.NewMemoryStateStore()
		future := time.Now().Add(time.Hour)
		data, err := json.Marshal(map[string]any{"blocked_until": future, "failure_count": 3})
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, "gate/refresh/claude", data))

		fp := &stubFingerprinter{}
		g := NewRefreshGate(provider.Claude, st, fp)
		require.True(t, g.Blocked(ctx))

		// The migrated fingerprint is unknown, so the first observable
		// fingerprint opens the gate.
		fp.fp = knownFingerprint("fresh")
		assert.True(t, g.ShouldAttempt(ctx, time.Now().Add(FingerprintRecheckInterval)))
	})

	t.Run("failure count alone loads blocked", func(t *testing.T) {
		st := store.NewMemoryStateStore()
		data, err := json.Marshal(map[string]any{"failure_count": 2})
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, "gate/refresh/codex", data))

		g := NewRefreshGate(provider.Codex, st, &stubFingerprinter{})
		assert.True(t, g.Blocked(ctx))
	})
}

func TestRefreshGateCorruptStateResets(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStateStore()
	require.NoError(t, st.Set(ctx, "gate/refresh/claude", []byte("not json")))

	g := NewRefreshGate(provider.Claude, st, &stubFingerprinter{})
	assert.True(t, g.ShouldAttempt(ctx, time.Now()))
}

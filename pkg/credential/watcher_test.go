package credential

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotabar/quotabar/pkg/provider"
)

func TestWatcherInvalidatesOnFileWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(credFile, []byte("v1"), 0o600))

	cache := NewCache(nil)
	cache.Store(ctx, provider.Claude, &Payload{AccessToken: "tok"})

	var notified atomic.Int32
	w := NewWatcher(cache, map[provider.ID]string{provider.Claude: credFile})
	w.OnChange = func(id provider.ID) {
		if id == provider.Claude {
			notified.Add(1)
		}
	}
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(credFile, []byte("v2"), 0o600))

	deadline := time.Now().Add(3 * time.Second)
	for cache.Load(ctx, provider.Claude) != nil {
		if time.Now().After(deadline) {
			t.Fatal("cache entry not invalidated after file write")
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return notified.Load() >= 1 },
		time.Second, 20*time.Millisecond, "change callback not invoked")
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(credFile, []byte("v1"), 0o600))

	cache := NewCache(nil)
	cache.Store(ctx, provider.Claude, &Payload{AccessToken: "tok"})

	w := NewWatcher(cache, map[provider.ID]string{provider.Claude: credFile})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o600))

	time.Sleep(400 * time.Millisecond)
	assert.NotNil(t, cache.Load(ctx, provider.Claude), "unrelated write must not invalidate")
}

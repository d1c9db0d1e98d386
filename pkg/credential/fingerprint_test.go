package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

func TestFingerprintEqualUnknownSemantics(t *testing.T) {
	var unknown Fingerprint
	known := fakeFingerprint("abc")

	assert.False(t, unknown.Known())
	assert.True(t, known.Known())

	assert.True(t, unknown.Equal(Fingerprint{}), "two unknowns compare equal")
	assert.False(t, unknown.Equal(known), "unknown never equals known")
	assert.False(t, known.Equal(unknown))
	assert.True(t, known.Equal(fakeFingerprint("abc")))
	assert.False(t, known.Equal(fakeFingerprint("def")))
}

func TestStoreFingerprinterTracksFileAndStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(credFile, []byte(`{"v":1}`), 0o600))

	kc := keychain.NewMemoryStore()
	sf := &StoreFingerprinter{
		Keychain: kc,
		Service:  Service,
		CredentialFile: func(id provider.ID) string {
			return credFile
		},
	}

	before := sf.Fingerprint(ctx, provider.Claude)
	assert.True(t, before.Known(), "file hash alone makes the fingerprint known")
	assert.Empty(t, before.StoreRefHash)

	// Rewriting the file changes the fingerprint.
	require.NoError(t, os.WriteFile(credFile, []byte(`{"v":2}`), 0o600))
	afterFile := sf.Fingerprint(ctx, provider.Claude)
	assert.False(t, afterFile.Equal(before))

	// Writing the secure-store item changes it again.
	require.NoError(t, kc.Store(Service, string(provider.Claude), []byte("secret")))
	afterStore := sf.Fingerprint(ctx, provider.Claude)
	assert.False(t, afterStore.Equal(afterFile))
	assert.NotEmpty(t, afterStore.StoreRefHash)
}

func TestStoreFingerprinterMissingFile(t *testing.T) {
	sf := &StoreFingerprinter{
		Keychain: keychain.NewMemoryStore(),
		Service:  Service,
		CredentialFile: func(id provider.ID) string {
			return filepath.Join(t.TempDir(), "nope.json")
		},
	}

	fp := sf.Fingerprint(context.Background(), provider.Gemini)
	assert.False(t, fp.Known(), "nothing observable yields the unknown sentinel")
}

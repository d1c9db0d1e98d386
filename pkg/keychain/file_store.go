package keychain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps secrets as 0600 files under Dir, one file per
// service/account pair. It is the portable fallback when no platform
// keychain integration is configured; file permissions are the only
// access control, so Dir itself is created 0700.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) path(service, account string) (string, error) {
	if service == "" || account == "" {
		return "", fmt.Errorf("keychain: empty service or account")
	}
	// Item names come from a closed set, but keep path traversal out
	// anyway since account labels are user supplied.
	clean := func(s string) string {
		s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
		return strings.ReplaceAll(s, "..", "_")
	}
	return filepath.Join(f.Dir, clean(service), clean(account)+".json"), nil
}

func (f *FileStore) Load(service, account string) ([]byte, error) {
	p, err := f.path(service, account)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("keychain: read %s: %w", service, err)
	}
	return data, nil
}

func (f *FileStore) Store(service, account string, data []byte) error {
	p, err := f.path(service, account)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("keychain: create dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("keychain: write %s: %w", service, err)
	}
	return os.Rename(tmp, p)
}

func (f *FileStore) Delete(service, account string) error {
	p, err := f.path(service, account)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("keychain: delete %s: %w", service, err)
	}
	return nil
}

func (f *FileStore) Metadata(service, account string) (Metadata, error) {
	p, err := f.path(service, account)
	if err != nil {
		return Metadata{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("keychain: stat %s: %w", service, err)
	}
	md := Metadata{ModifiedAt: info.ModTime()}
	// Content hash doubles as the stable item reference: a re-login
	// that writes identical bytes is indistinguishable from no change,
	// which is the behavior fingerprinting wants.
	if data, err := os.ReadFile(p); err == nil {
		sum := sha256.Sum256(data)
		md.RefHash = hex.EncodeToString(sum[:8])
	}
	return md, nil
}

package vault

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	keyFileName  = "vault.key"
	metaFileName = "vault.key.meta"
)

// keyMeta is the sibling metadata file tracking key age and version.
type keyMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

// keyFile manages the encryption key on disk. The key is hex-encoded in a
// 0600 file inside a 0700 directory.
type keyFile struct {
	dir string
}

func (k *keyFile) keyPath() string  { return filepath.Join(k.dir, keyFileName) }
func (k *keyFile) metaPath() string { return filepath.Join(k.dir, metaFileName) }

// load reads the key and its metadata, generating a fresh pair when none
// exists yet.
func (k *keyFile) load() ([]byte, keyMeta, error) {
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return nil, keyMeta{}, fmt.Errorf("vault: key dir: %w", err)
	}

	raw, err := os.ReadFile(k.keyPath())
	if os.IsNotExist(err) {
		key, err := newKey()
		if err != nil {
			return nil, keyMeta{}, err
		}
		meta := keyMeta{CreatedAt: time.Now().UTC(), Version: 1}
		if err := k.write(key, meta); err != nil {
			return nil, keyMeta{}, err
		}
		return key, meta, nil
	}
	if err != nil {
		return nil, keyMeta{}, fmt.Errorf("vault: reading key file: %w", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != keySize {
		return nil, keyMeta{}, fmt.Errorf("vault: key file %s is corrupted", k.keyPath())
	}

	meta := keyMeta{CreatedAt: time.Now().UTC(), Version: 1}
	if rawMeta, err := os.ReadFile(k.metaPath()); err == nil {
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return nil, keyMeta{}, fmt.Errorf("vault: meta file %s is corrupted", k.metaPath())
		}
	} else if !os.IsNotExist(err) {
		return nil, keyMeta{}, fmt.Errorf("vault: reading meta file: %w", err)
	}
	return key, meta, nil
}

// write persists key and metadata atomically: temp file, fsync-free rename.
func (k *keyFile) write(key []byte, meta keyMeta) error {
	if err := writeFileAtomic(k.keyPath(), []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("vault: writing key file: %w", err)
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("vault: encoding meta: %w", err)
	}
	if err := writeFileAtomic(k.metaPath(), rawMeta, 0o600); err != nil {
		return fmt.Errorf("vault: writing meta file: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

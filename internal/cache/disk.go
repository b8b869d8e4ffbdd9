package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps payloads as content-addressed files under a root directory.
// Each record is a <sha256(key)>.bin payload plus a .json sidecar carrying the
// original key and content type. Writes go through a temp file and rename so a
// crash mid-write never exposes partial data.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Root returns the directory backing the store, used for device headroom checks.
func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	base := hashKey(key)
	meta := Record{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(payload)),
		CachedAt:    nowMillis(),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}

	if err := writeAtomic(filepath.Join(s.root, base+".bin"), payload); err != nil {
		return fmt.Errorf("write cache payload: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.root, base+".json"), rawMeta); err != nil {
		// Payload without metadata is unreadable; back it out.
		_ = os.Remove(filepath.Join(s.root, base+".bin"))
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func (s *DiskStore) Match(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := hashKey(key)
	rawMeta, err := os.ReadFile(filepath.Join(s.root, base+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(rawMeta, &rec); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}

	payload, err := os.ReadFile(filepath.Join(s.root, base+".bin"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache payload: %w", err)
	}
	rec.Payload = payload
	return &rec, nil
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	base := hashKey(key)
	for _, suffix := range []string{".bin", ".json"} {
		if err := os.Remove(filepath.Join(s.root, base+suffix)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cache record: %w", err)
		}
	}
	return nil
}

func (s *DiskStore) Usage(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() && strings.HasSuffix(path, ".bin") {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk cache dir: %w", err)
	}
	return total, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ Store = (*DiskStore)(nil)

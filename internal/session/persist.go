package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gallerio/internal/cache"
)

// FilePersister keeps the blob in a JSON file readable only by the owner.
type FilePersister struct {
	path string
}

// NewFilePersister stores the session at path, creating parent directories on save.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Load(_ context.Context) (*Blob, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		// A corrupt blob is treated as logged out.
		return nil, nil
	}
	return &blob, nil
}

func (p *FilePersister) Save(_ context.Context, blob Blob) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (p *FilePersister) Clear(_ context.Context) error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// RedisPersister keeps the blob under a single redis key.
type RedisPersister struct {
	redis *cache.Redis
	key   string
}

func NewRedisPersister(redis *cache.Redis, key string) *RedisPersister {
	return &RedisPersister{redis: redis, key: key}
}

func (p *RedisPersister) Load(ctx context.Context) (*Blob, error) {
	var blob Blob
	ok, err := p.redis.GetJSON(ctx, p.key, &blob)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &blob, nil
}

func (p *RedisPersister) Save(ctx context.Context, blob Blob) error {
	return p.redis.SetJSON(ctx, p.key, blob, 0)
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	return p.redis.Delete(ctx, p.key)
}

// MemoryPersister keeps nothing across processes.
type MemoryPersister struct {
	mu   sync.Mutex
	blob *Blob
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Load(_ context.Context) (*Blob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blob == nil {
		return nil, nil
	}
	cp := *p.blob
	return &cp, nil
}

func (p *MemoryPersister) Save(_ context.Context, blob Blob) error {
	p.mu.Lock()
	p.blob = &blob
	p.mu.Unlock()
	return nil
}

func (p *MemoryPersister) Clear(_ context.Context) error {
	p.mu.Lock()
	p.blob = nil
	p.mu.Unlock()
	return nil
}

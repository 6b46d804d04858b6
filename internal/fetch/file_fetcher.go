package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileFetcher serves keys relative to a root path on the local filesystem.
// An empty key addresses the root path itself.
type FileFetcher struct {
	root string
}

func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: root}
}

func (f *FileFetcher) resolve(key string) string {
	if key == "" {
		return f.root
	}
	base := f.root
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		base = filepath.Dir(base)
	}
	return filepath.Join(base, filepath.FromSlash(key))
}

func (f *FileFetcher) FetchAll(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "[%s]: %v", key, err)
		}
		return nil, errors.Wrapf(ErrNetwork, "reading [%s]: %v", key, err)
	}
	return data, nil
}

func (f *FileFetcher) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	file, err := os.Open(f.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "[%s]: %v", key, err)
		}
		return nil, errors.Wrapf(ErrNetwork, "opening [%s]: %v", key, err)
	}
	defer file.Close()

	buf := make([]byte, length)
	if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrNetwork, "reading %d bytes at %d from [%s]: %v", length, offset, key, err)
	}
	return buf, nil
}

func (f *FileFetcher) Close() {}

// MemoryFetcher serves keys from an in memory map. Used by tests and for
// embedded datasets.
type MemoryFetcher struct {
	Files map[string][]byte
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{Files: make(map[string][]byte)}
}

func (f *MemoryFetcher) FetchAll(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.Files[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "[%s]", key)
	}
	return data, nil
}

func (f *MemoryFetcher) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	data, err := f.FetchAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset+length > int64(len(data)) {
		return nil, errors.Wrapf(ErrNetwork, "range %d+%d outside [%s] of %d bytes", offset, length, key, len(data))
	}
	return data[offset : offset+length], nil
}

func (f *MemoryFetcher) Close() {}

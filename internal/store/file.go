package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// lockStripes bounds the number of file mutexes regardless of key count.
const lockStripes = 64

// FileBackend mirrors the document shapes as one JSON file per (kind, key).
// It is the fallback tier and is only reached through the Coordinator.
type FileBackend struct {
	root  string
	locks [lockStripes]sync.Mutex
}

// NewFileBackend creates a file-backed document store rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{root: dir}
}

// Name identifies the backend in logs.
func (f *FileBackend) Name() string {
	return "file"
}

// Ping verifies the root directory can be created.
func (f *FileBackend) Ping(_ context.Context) error {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("create fallback dir: %w", err)
	}
	return nil
}

func (f *FileBackend) kindDir(kind Kind) string {
	return filepath.Join(f.root, string(kind)+"s")
}

// path derives the file name from the key; escaping keeps keys inside kindDir.
func (f *FileBackend) path(kind Kind, key string) string {
	return filepath.Join(f.kindDir(kind), string(kind)+"_"+url.PathEscape(key)+".json")
}

// lockFor returns the stripe guarding (kind, key). Unrelated keys may share
// a stripe.
func (f *FileBackend) lockFor(kind Kind, key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(kind) + "/" + key))
	return &f.locks[h.Sum32()%lockStripes]
}

// Get reads a document file. A missing file is not an error.
func (f *FileBackend) Get(ctx context.Context, kind Kind, key string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := f.lockFor(kind, key)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(f.path(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s file: %w", kind, err)
	}
	return decodeFields(kind, key, data)
}

// Put writes the document atomically: temp file then rename.
func (f *FileBackend) Put(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeFieldsIndent(doc)
	if err != nil {
		return err
	}

	l := f.lockFor(doc.Kind, doc.Key)
	l.Lock()
	defer l.Unlock()

	dir := f.kindDir(doc.Kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", doc.Kind, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(doc.Kind, doc.Key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *FileBackend) Close() error {
	return nil
}

// Package indexer adds local text documents to memory, either in one pass
// over a directory or continuously as files change.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/orion-hub/orion-memory-go/pkg/core"
)

// Adder is the part of the memory client the indexer uses.
type Adder interface {
	AddMemory(ctx context.Context, text, sourceID string, opts ...core.AddOption) (*core.AddResult, error)
}

// Indexer adds supported files as memories of type local_doc_txt, using
// the file path as source id.
type Indexer struct {
	memory     Adder
	collection string
	tags       []string
	extensions map[string]bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithCollection writes to a collection other than the client default.
func WithCollection(collection string) Option {
	return func(ix *Indexer) {
		ix.collection = collection
	}
}

// WithTags adds tags to every indexed document.
func WithTags(tags ...string) Option {
	return func(ix *Indexer) {
		ix.tags = append(ix.tags, tags...)
	}
}

// WithExtensions replaces the indexed file extensions (default .txt and .md).
func WithExtensions(exts ...string) Option {
	return func(ix *Indexer) {
		ix.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			ix.extensions[strings.ToLower(e)] = true
		}
	}
}

// New creates an indexer over memory.
func New(memory Adder, opts ...Option) *Indexer {
	ix := &Indexer{
		memory:     memory,
		extensions: map[string]bool{".txt": true, ".md": true},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Stats summarizes a directory pass.
type Stats struct {
	// Indexed is the number of files added.
	Indexed int `json:"indexed"`

	// Skipped counts empty files and files already stored.
	Skipped int `json:"skipped"`

	// Failed counts files that could not be read or added.
	Failed int `json:"failed"`

	// Chunks is the number of points written.
	Chunks int `json:"chunks"`
}

// ErrEmptyFile is returned by IndexFile for files with no text.
var ErrEmptyFile = errors.New("file is empty")

// Supported reports whether path has an indexed extension.
func (ix *Indexer) Supported(path string) bool {
	return ix.extensions[strings.ToLower(filepath.Ext(path))]
}

// IndexFile adds one file. A file already stored returns an error matching
// core.ErrDuplicateMemory.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*core.AddResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyFile
	}

	sum := sha256.Sum256(data)
	opts := []core.AddOption{
		core.WithType(core.TypeLocalDoc),
		core.WithTags(ix.tags...),
		core.WithMetadata(map[string]interface{}{
			"file_name": filepath.Base(path),
			"file_path": path,
			"file_hash": hex.EncodeToString(sum[:]),
		}),
	}
	if ix.collection != "" {
		opts = append(opts, core.WithCollection(ix.collection))
	}

	return ix.memory.AddMemory(ctx, string(data), path, opts...)
}

// IndexDirectory walks dir and indexes every supported file. Per-file
// failures are logged and counted; only a failure to walk dir is returned.
func (ix *Indexer) IndexDirectory(ctx context.Context, dir string) (*Stats, error) {
	log.Printf("[INDEXER] Starting directory scan: %s", dir)
	stats := &Stats{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !ix.Supported(path) {
			return nil
		}

		res, err := ix.IndexFile(ctx, path)
		ix.record(stats, path, res, err)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", dir, err)
	}

	log.Printf("[INDEXER] Directory scan finished: indexed=%d, skipped=%d, failed=%d, chunks=%d",
		stats.Indexed, stats.Skipped, stats.Failed, stats.Chunks)
	return stats, nil
}

func (ix *Indexer) record(stats *Stats, path string, res *core.AddResult, err error) {
	switch {
	case err == nil:
		stats.Indexed++
		stats.Chunks += res.Chunks
		log.Printf("[INDEXER] Indexed %s: chunks=%d", path, res.Chunks)
	case errors.Is(err, core.ErrDuplicateMemory), errors.Is(err, ErrEmptyFile):
		stats.Skipped++
	default:
		stats.Failed++
		log.Printf("[INDEXER] Failed to index %s: %v", path, err)
	}
}

// Event reports one indexing attempt made by Watch.
type Event struct {
	Path   string
	Result *core.AddResult
	Err    error
}

// Watch indexes supported files in dir as they are created or written.
//
// The watcher is registered before Watch returns. Events are delivered on
// the returned channel, which must be drained, and closed once ctx is done.
// Edits add new points; earlier versions of a file stay stored.
func (ix *Indexer) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Printf("[INDEXER] Watching directory: %s", dir)

	events := make(chan Event)
	go func() {
		defer close(events)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ix.Supported(event.Name) || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}

				res, err := ix.IndexFile(ctx, event.Name)
				if errors.Is(err, ErrEmptyFile) {
					// Create fires before the first write.
					continue
				}
				if err != nil && !errors.Is(err, core.ErrDuplicateMemory) {
					log.Printf("[INDEXER] Failed to index %s: %v", event.Name, err)
				}

				select {
				case events <- Event{Path: event.Name, Result: res, Err: err}:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[INDEXER] Watcher error: %v", err)

			case <-ctx.Done():
				log.Println("[INDEXER] Context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	return events, nil
}

package watermark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
	jsonpool "github.com/ajitpratap0/ledgersync/pkg/json"
)

// stateFile is the on-disk document
type stateFile struct {
	Key       string    `json:"key"`
	Watermark time.Time `json:"watermark"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileStore keeps the watermark in a small JSON document. Writes go to a
// temp file in the same directory and are renamed over the target, so a
// crash leaves either the old or the new document.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  string
	opts options
}

// NewFileStore creates a store backed by path
func NewFileStore(path, key string, opts ...Option) *FileStore {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "watermark_file"), zap.String("path", path))
	return &FileStore{path: path, key: key, opts: o}
}

// Load reads the document. A missing file means nothing was saved.
func (s *FileStore) Load(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.read()
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return doc.Watermark.UTC(), true, nil
}

// Save writes wm when it is later than the stored value
func (s *FileStore) Save(_ context.Context, wm time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.read()
	if err != nil {
		return err
	}
	wm = Normalize(wm)
	if ok && !wm.After(doc.Watermark) {
		return nil
	}
	return s.write(wm)
}

// Reset writes wm unconditionally
func (s *FileStore) Reset(_ context.Context, wm time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(Normalize(wm))
}

// Close is a no-op
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (stateFile, bool, error) {
	var doc stateFile

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, errors.Wrap(err, errors.ErrorTypeFile, "failed to read watermark file").
			WithDetail("path", s.path)
	}

	if err := jsonpool.Unmarshal(data, &doc); err != nil {
		return doc, false, errors.Wrap(err, errors.ErrorTypeFile, "corrupt watermark file").
			WithDetail("path", s.path)
	}
	if doc.Key != s.key {
		return doc, false, errors.New(errors.ErrorTypeFile,
			fmt.Sprintf("watermark file belongs to pipeline %q, not %q", doc.Key, s.key)).
			WithDetail("path", s.path)
	}
	return doc, true, nil
}

func (s *FileStore) write(wm time.Time) error {
	data, err := jsonpool.MarshalIndent(stateFile{
		Key:       s.key,
		Watermark: wm,
		UpdatedAt: s.opts.clock.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode watermark")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create watermark directory").
			WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write watermark")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync watermark")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close watermark temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace watermark file").
			WithDetail("path", s.path)
	}

	s.opts.logger.Debug("watermark written", zap.Time("watermark", wm))
	return nil
}

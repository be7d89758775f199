package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BaSui01/autoheal/types"
	"github.com/spf13/afero"
)

// FileHistoryStore is a file-based implementation of HistoryStore.
// Suitable for single-node deployments. Every key is one JSONL file;
// windows are cached in memory after the first read.
type FileHistoryStore struct {
	fs       afero.Fs
	baseDir  string
	capacity int
	windows  map[string][]types.HistoricalSample
	mu       sync.Mutex
	closed   bool
}

// NewFileHistoryStore creates a new file-based history store rooted at baseDir.
func NewFileHistoryStore(fs afero.Fs, baseDir string, capacity int) (*FileHistoryStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileHistoryStore{
		fs:       fs,
		baseDir:  baseDir,
		capacity: normalizeCapacity(capacity),
		windows:  make(map[string][]types.HistoricalSample),
	}, nil
}

// Close closes the store
func (s *FileHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileHistoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.fs.Stat(s.baseDir)
	return err
}

// keyPath maps a key to a filesystem-safe file name.
func (s *FileHistoryStore) keyPath(key string) string {
	return filepath.Join(s.baseDir, base64.RawURLEncoding.EncodeToString([]byte(key))+".jsonl")
}

// load returns the cached window for key, reading it from disk on first use.
func (s *FileHistoryStore) load(key string) ([]types.HistoricalSample, error) {
	if w, ok := s.windows[key]; ok {
		return w, nil
	}

	data, err := afero.ReadFile(s.fs, s.keyPath(key))
	if os.IsNotExist(err) {
		s.windows[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var w []types.HistoricalSample
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var sample types.HistoricalSample
		if err := json.Unmarshal(line, &sample); err != nil {
			// 跳过损坏的行（例如写入中断）
			continue
		}
		w = append(w, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if over := len(w) - s.capacity; over > 0 {
		w = w[over:]
	}
	s.windows[key] = w
	return w, nil
}

// Append adds a sample, rewriting the file when the oldest entry is evicted.
func (s *FileHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sample, err := prepareSample(sample)
	if err != nil {
		return err
	}

	w, err := s.load(sample.Key)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	w = append(w, sample)
	if over := len(w) - s.capacity; over > 0 {
		w = append([]types.HistoricalSample(nil), w[over:]...)
		if err := s.rewrite(sample.Key, w); err != nil {
			return err
		}
	} else if err := s.appendLine(sample.Key, sample); err != nil {
		return err
	}

	s.windows[sample.Key] = w
	return nil
}

func (s *FileHistoryStore) appendLine(key string, sample types.HistoricalSample) error {
	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	f, err := s.fs.OpenFile(s.keyPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// rewrite atomically replaces the key file: write to a temp file, then rename.
func (s *FileHistoryStore) rewrite(key string, w []types.HistoricalSample) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, sample := range w {
		if err := enc.Encode(sample); err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}
	}

	path := s.keyPath(key)
	tempPath := path + ".tmp"
	if err := afero.WriteFile(s.fs, tempPath, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tempPath, path)
}

// Query returns the most recent samples for key, oldest first.
func (s *FileHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	w, err := s.load(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return tail(w, window), nil
}

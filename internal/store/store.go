// Package store implements the on-disk persistence layer: a manifest.json
// metadata file and an index.jsonl record stream, both rooted under a
// hidden directory in the project root.
package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/exci-dev/exci/internal/errors"
	"github.com/exci-dev/exci/internal/types"
)

const dirName = ".exci"

// Store owns the hidden directory for one project root. Concurrency
// policy: single writer per project root; every mutating method holds mu
// for its duration. Readers stream from disk independently.
type Store struct {
	root string
	dir  string
	mu   sync.Mutex
}

// New returns a Store rooted at projectRoot's hidden directory.
func New(projectRoot string) *Store {
	return &Store{root: projectRoot, dir: filepath.Join(projectRoot, dirName)}
}

func (s *Store) ManifestPath() string { return filepath.Join(s.dir, "manifest.json") }
func (s *Store) IndexPath() string    { return filepath.Join(s.dir, "index.jsonl") }
func (s *Store) CacheDir() string     { return filepath.Join(s.dir, "cache") }

// IndexExists reports whether both the manifest and the index file are
// present.
func (s *Store) IndexExists() bool {
	if _, err := os.Stat(s.ManifestPath()); err != nil {
		return false
	}
	if _, err := os.Stat(s.IndexPath()); err != nil {
		return false
	}
	return true
}

// ReadManifest decodes manifest.json.
func (s *Store) ReadManifest() (*types.Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		return nil, errors.NewIOError("read", s.ManifestPath(), err)
	}
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewIOError("decode", s.ManifestPath(), err)
	}
	return &m, nil
}

// WriteManifest encodes and atomically writes manifest.json.
func (s *Store) WriteManifest(m *types.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.NewIOError("encode", s.ManifestPath(), err)
	}
	return atomicWrite(s.ManifestPath(), data)
}

// WriteRecords truncates and atomically rewrites index.jsonl with the
// given records, one JSON object per line.
func (s *Store) WriteRecords(records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecordsLocked(records)
}

// RewriteRecords is an atomic full rewrite, identical to WriteRecords; the
// distinct name mirrors the operation spec.md names separately from
// write_records (same mechanism, invoked from the incremental-refresh
// path instead of the initial-index path).
func (s *Store) RewriteRecords(records []types.Record) error {
	return s.WriteRecords(records)
}

func (s *Store) writeRecordsLocked(records []types.Record) error {
	data, err := encodeJSONL(records)
	if err != nil {
		return err
	}
	return atomicWrite(s.IndexPath(), data)
}

// AppendRecords appends records to index.jsonl without rewriting existing
// lines.
func (s *Store) AppendRecords(records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewIOError("mkdir", s.dir, err)
	}
	f, err := os.OpenFile(s.IndexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewIOError("open", s.IndexPath(), err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return errors.NewIOError("encode", s.IndexPath(), err)
		}
		if _, err := w.Write(line); err != nil {
			return errors.NewIOError("write", s.IndexPath(), err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return errors.NewIOError("write", s.IndexPath(), err)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.NewIOError("flush", s.IndexPath(), err)
	}
	return nil
}

// RecordIterator lazily reads index.jsonl one line at a time.
type RecordIterator struct {
	f       *os.File
	scanner *bufio.Scanner
}

// StreamRecords opens index.jsonl for lazy line-by-line reading. The
// caller must call Close when done.
func (s *Store) StreamRecords() (*RecordIterator, error) {
	f, err := os.Open(s.IndexPath())
	if err != nil {
		return nil, errors.NewIOError("open", s.IndexPath(), err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &RecordIterator{f: f, scanner: scanner}, nil
}

// Next returns the next record, or ok=false at end of stream.
func (it *RecordIterator) Next() (types.Record, bool, error) {
	for it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r types.Record
		if err := json.Unmarshal(line, &r); err != nil {
			return types.Record{}, false, errors.NewIOError("decode", it.f.Name(), err)
		}
		return r, true, nil
	}
	if err := it.scanner.Err(); err != nil {
		return types.Record{}, false, errors.NewIOError("read", it.f.Name(), err)
	}
	return types.Record{}, false, nil
}

// Close releases the iterator's underlying file handle.
func (it *RecordIterator) Close() error { return it.f.Close() }

// ReadAllRecords drains StreamRecords into a slice; a convenience wrapper
// for callers that need the full set (e.g. the query engine's lookups).
func (s *Store) ReadAllRecords() ([]types.Record, error) {
	it, err := s.StreamRecords()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []types.Record
	for {
		r, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// RemoveRecordsForFiles streams the current index, drops every record
// whose file field is in files, and atomically rewrites the remainder.
// DepEdge records carry no file field and are always kept.
func (s *Store) RemoveRecordsForFiles(files map[string]bool) ([]types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.StreamRecords()
	if err != nil {
		return nil, err
	}
	var remainder []types.Record
	for {
		r, ok, err := it.Next()
		if err != nil {
			it.Close()
			return nil, err
		}
		if !ok {
			break
		}
		file, ferr := types.FileOf(r)
		if ferr == nil && file != "" && files[file] {
			continue
		}
		remainder = append(remainder, r)
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	if err := s.writeRecordsLocked(remainder); err != nil {
		return nil, err
	}
	return remainder, nil
}

// SchemaCompatible reports whether the on-disk manifest's schema version
// matches this build's. An incompatible version means the caller should
// do a full rebuild rather than an incremental refresh.
func SchemaCompatible(m *types.Manifest) bool {
	return m.SchemaCompatible()
}

// Clear removes the hidden directory entirely.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.NewIOError("remove", s.dir, err)
	}
	return nil
}

func encodeJSONL(records []types.Record) ([]byte, error) {
	var buf []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, errors.NewIOError("encode", "index.jsonl", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// atomicWrite writes data to a temp file in path's directory, then renames
// it over path, so a reader never observes a partially-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.NewIOError("create-temp", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("close", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("rename", path, err)
	}
	return nil
}

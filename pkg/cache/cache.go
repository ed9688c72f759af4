// Package cache stores per bucket object listings in local CSV snapshot
// files so that later runs can skip listing the bucket again.
package cache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
)

const (
	// Extension is appended to the bucket name to form the snapshot file name.
	Extension = ".cache"

	fileMode = 0o644
	dirMode  = 0o755
)

// ErrNoCache is returned when a bucket has no snapshot file.
var ErrNoCache = errors.New("no cache file")

// Header is the first record of every snapshot file.
var Header = []string{"Bucket", "Key", "ETag", normalize.ColumnSize, normalize.ColumnLastModified, normalize.ColumnStorageClass}

// Store manages the snapshot files of a directory.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{
		dir: dir,
		log: slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (s *Store) SetLogger(log *slog.Logger) {
	s.log = log
}

// Path returns the snapshot file of a bucket.
func (s *Store) Path(bucket string) string {
	return filepath.Join(s.dir, bucket+Extension)
}

// Read streams the rows of a bucket snapshot to fn.
// It returns ErrNoCache when the snapshot does not exist.
func (s *Store) Read(bucket string, fn func(normalize.RawSourceRow) error) error {
	path := s.Path(bucket)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoCache, path)
	}
	if err != nil {
		return fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s is empty", ErrNoCache, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read cache header %s: %w", path, err)
	}
	schema, err := normalize.NewSchema(append([]string(nil), header...))
	if err != nil {
		return fmt.Errorf("invalid cache header %s: %w", path, err)
	}

	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read cache %s: %w", path, err)
		}
		row, err := schema.Parse(record)
		if err != nil {
			return fmt.Errorf("invalid cache record in %s: %w", path, err)
		}
		if err := fn(row); err != nil {
			return err
		}
		rows++
	}
	s.log.Debug("Read cache", slog.String("path", path), slog.Int("rows", rows))
	return nil
}

// Create starts a new snapshot of bucket. Rows go to a temporary file that
// replaces the current snapshot on Commit.
func (s *Store) Create(bucket string) (*Writer, error) {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", s.dir, err)
	}
	f, err := os.CreateTemp(s.dir, bucket+Extension+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache file for %s: %w", bucket, err)
	}
	w := &Writer{
		bucket: bucket,
		path:   s.Path(bucket),
		file:   f,
		csv:    csv.NewWriter(f),
	}
	if err := w.csv.Write(Header); err != nil {
		w.Abort()
		return nil, fmt.Errorf("failed to write cache header: %w", err)
	}
	return w, nil
}

// Writer appends listing pages to a snapshot being built.
type Writer struct {
	bucket string
	path   string
	file   *os.File
	csv    *csv.Writer
	rows   int
}

// Write appends a page of objects.
func (w *Writer) Write(objects []dto.S3Object) error {
	record := make([]string, len(Header))
	for _, o := range objects {
		record[0] = w.bucket
		record[1] = o.Key
		record[2] = o.ETag
		record[3] = strconv.FormatInt(o.Size, 10)
		record[4] = o.LastModified.UTC().Format(time.RFC3339Nano)
		record[5] = o.StorageClass
		if err := w.csv.Write(record); err != nil {
			return fmt.Errorf("failed to write cache record: %w", err)
		}
	}
	w.rows += len(objects)
	return nil
}

// Rows returns the number of objects written so far.
func (w *Writer) Rows() int {
	return w.rows
}

// Commit flushes the snapshot and makes it the current one.
func (w *Writer) Commit() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to close cache: %w", err)
	}
	if err := os.Chmod(w.file.Name(), fileMode); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to chmod cache: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.path); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to move cache into place: %w", err)
	}
	return nil
}

// Abort drops the snapshot being built. The current snapshot is untouched.
func (w *Writer) Abort() {
	w.file.Close()
	os.Remove(w.file.Name())
}

// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const (
	// Extension of recording files.
	Extension = ".daq"

	formatVersion = 1
	fileTimeFmt   = "20060102_1504"
)

type fileHeader struct {
	Version int `json:"version"`
	Attributes
}

// FileStore writes one file per recording into Dir. A file is a JSON header
// line followed by a zstd stream of little endian float64 rows, each being
// the timestamp followed by the channel values.
type FileStore struct {
	Dir string
	// Now is used for file names and the creation date.
	Now func() time.Time
}

// NewFileStore returns a store writing into dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir, Now: time.Now}
}

// FileName returns the name of a recording of stream created at t.
func FileName(stream string, t time.Time) string {
	return t.Format(fileTimeFmt) + "_" + stream + Extension
}

// Create opens a new recording file. An existing file of the same name is
// never overwritten; a numeric suffix is added instead.
func (s *FileStore) Create(attrs Attributes) (Table, error) {
	if attrs.ChannelCount < 1 {
		return nil, fmt.Errorf("recording %s needs at least one channel", attrs.Stream)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}

	now := s.Now()
	if attrs.CreationDate.IsZero() {
		attrs.CreationDate = now
	}

	f, path, err := createUnique(filepath.Join(s.Dir, FileName(attrs.Stream, now)))
	if err != nil {
		return nil, err
	}

	header, err := json.Marshal(fileHeader{Version: formatVersion, Attributes: attrs})
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	if _, err := f.Write(append(header, '\n')); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("write header: %w", err)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	return &fileTable{
		file:  f,
		path:  path,
		enc:   enc,
		attrs: attrs,
		row:   make([]byte, 8*(attrs.ChannelCount+1)),
	}, nil
}

func createUnique(path string) (*os.File, string, error) {
	base := strings.TrimSuffix(path, Extension)

	for i := 0; i < 100; i++ {
		candidate := path
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, Extension)
		}

		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}

		if err != nil {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}

		return f, candidate, nil
	}

	return nil, "", fmt.Errorf("create %s: too many recordings with the same name", path)
}

type fileTable struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	enc    *zstd.Encoder
	attrs  Attributes
	row    []byte
	rows   int
	closed bool
}

// Path returns the file the table writes to.
func (t *fileTable) Path() string {
	return t.path
}

func (t *fileTable) Append(ts float64, values []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if len(values) != t.attrs.ChannelCount {
		return fmt.Errorf("row has %d values, %s expects %d", len(values), t.attrs.Stream, t.attrs.ChannelCount)
	}

	binary.LittleEndian.PutUint64(t.row, math.Float64bits(ts))
	for i, v := range values {
		binary.LittleEndian.PutUint64(t.row[8*(i+1):], math.Float64bits(v))
	}

	if _, err := t.enc.Write(t.row); err != nil {
		return fmt.Errorf("append to %s: %w", t.path, err)
	}

	t.rows++

	return nil
}

func (t *fileTable) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if err := t.enc.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", t.path, err)
	}

	return nil
}

func (t *fileTable) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rows
}

func (t *fileTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	return errors.Join(t.enc.Close(), t.file.Sync(), t.file.Close())
}

// ReadRecording loads a recording file. A row cut short by a crash is
// ignored.
func ReadRecording(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var header fileHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", path, err)
	}

	if header.Version != formatVersion {
		return nil, fmt.Errorf("%s: unsupported format version %d", path, header.Version)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	rec := &Recording{Attributes: header.Attributes, Path: path}
	row := make([]byte, 8*(header.ChannelCount+1))

	for {
		if _, err := io.ReadFull(dec, row); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		rec.Time = append(rec.Time, math.Float64frombits(binary.LittleEndian.Uint64(row)))

		values := make([]float64, header.ChannelCount)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(row[8*(i+1):]))
		}

		rec.Data = append(rec.Data, values)
	}

	return rec, nil
}

// List returns the recording files in dir, newest name first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	slices.Sort(files)
	slices.Reverse(files)

	return files, nil
}

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

// Package frame decodes the fixed-size binary frames emitted by the instrument.
//
// Wire layout, little endian:
//
//	0xA0 | index u8 | timestamp u64 (µs) | channel u16 × C | 0xFF
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Header  byte = 0xA0
	Trailer byte = 0xFF

	// DefaultChannels is the channel count of the standard 15-byte frame.
	DefaultChannels = 2

	// overhead is header, index, timestamp and trailer.
	overhead = 1 + 1 + 8 + 1

	microsecond = 1e-6
)

var (
	ErrShortFrame = errors.New("frame too short")
	ErrBadHeader  = errors.New("frame header mismatch")
	ErrBadTrailer = errors.New("frame trailer mismatch")
)

// Layout describes the channel count and therefore the width of a frame.
type Layout struct {
	Channels int
}

// DefaultLayout is the two-channel, 15-byte layout.
var DefaultLayout = Layout{Channels: DefaultChannels}

// Width returns the encoded size of one frame in bytes.
func (l Layout) Width() int {
	return overhead + 2*l.Channels
}

// Sample is one decoded frame. Timestamp is in seconds since the instrument
// started acquiring; Index wraps at 256.
type Sample struct {
	Timestamp float64
	Index     int
	Values    []int64
}

// Row flattens the sample into the column order used by streams:
// index followed by the channel values.
func (s Sample) Row() []int64 {
	row := make([]int64, 0, 1+len(s.Values))
	row = append(row, int64(s.Index))

	return append(row, s.Values...)
}

// Validate checks length and framing bytes of a single frame.
func (l Layout) Validate(buf []byte) error {
	width := l.Width()
	if len(buf) < width {
		return fmt.Errorf("%w: %d < %d bytes", ErrShortFrame, len(buf), width)
	}

	if buf[0] != Header {
		return fmt.Errorf("%w: got 0x%02X", ErrBadHeader, buf[0])
	}

	if buf[width-1] != Trailer {
		return fmt.Errorf("%w: got 0x%02X", ErrBadTrailer, buf[width-1])
	}

	return nil
}

// Decode decodes a single frame with the default layout. Malformed input
// yields an empty result.
func Decode(buf []byte) []Sample {
	return DefaultLayout.Decode(buf)
}

// DecodeBatch decodes contiguous frames of the default layout.
func DecodeBatch(buf []byte) []Sample {
	return DefaultLayout.DecodeBatch(buf)
}

// Decode decodes the first frame in buf. Malformed input yields an empty
// result and never an error.
func (l Layout) Decode(buf []byte) []Sample {
	if l.Validate(buf) != nil {
		return nil
	}

	return []Sample{l.parse(buf)}
}

// DecodeBatch decodes len(buf)/Width() contiguous frames, skipping every
// frame whose header or trailer is wrong. A trailing partial frame is ignored.
func (l Layout) DecodeBatch(buf []byte) []Sample {
	width := l.Width()
	samples := make([]Sample, 0, len(buf)/width)

	for off := 0; off+width <= len(buf); off += width {
		chunk := buf[off : off+width]
		if chunk[0] != Header || chunk[width-1] != Trailer {
			continue
		}

		samples = append(samples, l.parse(chunk))
	}

	return samples
}

func (l Layout) parse(buf []byte) Sample {
	values := make([]int64, l.Channels)
	for ch := range values {
		values[ch] = int64(binary.LittleEndian.Uint16(buf[10+2*ch:]))
	}

	return Sample{
		Index:     int(buf[1]),
		Timestamp: float64(binary.LittleEndian.Uint64(buf[2:10])) * microsecond,
		Values:    values,
	}
}

// Resync drops buf up to the next header byte after its first byte and
// returns the rest, reusing buf. It returns an empty slice when no further
// header is present.
func Resync(buf []byte) []byte {
	if len(buf) < 2 {
		return buf[:0]
	}

	i := bytes.IndexByte(buf[1:], Header)
	if i < 0 {
		return buf[:0]
	}

	n := copy(buf, buf[i+1:])

	return buf[:n]
}

// Encode is the inverse of Decode. Values are truncated to 16 bits and the
// timestamp is rounded to whole microseconds.
func (l Layout) Encode(s Sample) []byte {
	buf := make([]byte, l.Width())
	buf[0] = Header
	buf[1] = byte(s.Index)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(s.Timestamp/microsecond+0.5))

	for ch := 0; ch < l.Channels && ch < len(s.Values); ch++ {
		binary.LittleEndian.PutUint16(buf[10+2*ch:], uint16(s.Values[ch]))
	}

	buf[len(buf)-1] = Trailer

	return buf
}

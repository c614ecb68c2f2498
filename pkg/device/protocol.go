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

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Head selects the instrument command.
type Head byte

const (
	HeadEcho         Head = 0
	HeadReset        Head = 1
	HeadClock        Head = 2
	HeadSystemState  Head = 3
	HeadPinState     Head = 4
	HeadRuntime      Head = 5
	HeadFirmware     Head = 6
	HeadLEDOn        Head = 7
	HeadLEDOff       Head = 8
	HeadLEDToggle    Head = 9
	HeadStartDAQ     Head = 10
	HeadStopDAQ      Head = 11
	HeadSamplingRate Head = 12
)

const (
	// RequestSize is the size of every command: data u16 LE, then head.
	RequestSize = 3
	// ResponseSize is the size of every answer except the runtime.
	ResponseSize = 3
	// RuntimeResponseSize is head followed by the runtime in µs as u64 LE.
	RuntimeResponseSize = 9
)

var (
	ErrUnexpectedHead = errors.New("unexpected response head")
	ErrInvalidState   = errors.New("invalid system state")
	ErrSamplingRate   = errors.New("sampling rate out of range")
)

// Request encodes a command.
func Request(head Head, data uint16) []byte {
	buf := make([]byte, RequestSize)
	binary.LittleEndian.PutUint16(buf, data)
	buf[2] = byte(head)

	return buf
}

// ParseRequest is the inverse of Request.
func ParseRequest(buf []byte) (Head, uint16, error) {
	if len(buf) != RequestSize {
		return 0, 0, fmt.Errorf("request has %d bytes, want %d", len(buf), RequestSize)
	}

	return Head(buf[2]), binary.LittleEndian.Uint16(buf), nil
}

func expectHead(resp []byte, head Head) error {
	if Head(resp[0]) != head {
		return fmt.Errorf("%w: got %d, want %d", ErrUnexpectedHead, resp[0], head)
	}

	return nil
}

// System states reported by the instrument.
const (
	StateError = "ERROR"
	StateReset = "RESET"
	StateInit  = "INIT"
	StateIdle  = "IDLE"
	StateTest  = "TEST"
	StateDAQ   = "DAQ"
)

var systemStates = []string{StateError, StateReset, StateInit, StateIdle, StateTest, StateDAQ}

// SystemStateName converts the state byte.
func SystemStateName(b byte) (string, error) {
	if int(b) >= len(systemStates) {
		return "", fmt.Errorf("%w: %d", ErrInvalidState, b)
	}

	return systemStates[b], nil
}

// SystemStateCode is the inverse of SystemStateName.
func SystemStateCode(name string) (byte, bool) {
	for i, s := range systemStates {
		if s == name {
			return byte(i), true
		}
	}

	return 0, false
}

// Pin states reported by the instrument.
const (
	PinsNone    = "NONE"
	PinsLEDUser = "LED_USER"
)

// PinStateName converts the pin state byte.
func PinStateName(b byte) string {
	if b == 0 {
		return PinsNone
	}

	return PinsLEDUser
}

// EchoChunks packs text into big-endian pairs of bytes. Text of odd length
// is padded with a space.
func EchoChunks(text string) (chunks []uint16, padded bool) {
	b := []byte(text)
	if len(b)%2 == 1 {
		b = append(b, ' ')
		padded = true
	}

	for i := 0; i < len(b); i += 2 {
		chunks = append(chunks, binary.BigEndian.Uint16(b[i:]))
	}

	return chunks, padded
}

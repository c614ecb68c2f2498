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
	"sync"
	"time"

	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
	"github.com/united-manufacturing-hub/daq-core/pkg/serial"
	"github.com/united-manufacturing-hub/daq-core/pkg/workers"
)

const (
	instrumentClock = 15_000 // in 10 kHz, 150 MHz
	streamTick      = 10 * time.Millisecond
	sineOffset      = 1 << 15
)

// Instrument simulates the acquisition instrument behind a loopback port.
// It answers every command and, while acquiring, streams sine frames at the
// configured sampling rate.
type Instrument struct {
	mu       sync.Mutex
	port     *serial.LoopbackPort
	layout   frame.Layout
	state    string
	led      bool
	rate     float64
	boot     time.Time
	firmware [2]byte
	sine     *workers.SineSource
	index    uint8
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewInstrument returns an idle instrument emitting frames of layout.
func NewInstrument(layout frame.Layout) *Instrument {
	i := &Instrument{
		layout:   layout,
		state:    StateIdle,
		rate:     constants.DefaultSamplingRate,
		boot:     time.Now(),
		firmware: [2]byte{1, 0},
		sine:     workers.NewSineSource(layout.Channels),
	}
	i.port = serial.NewLoopbackPort(i.respond)

	return i
}

// Port is the host side of the link.
func (i *Instrument) Port() *serial.LoopbackPort {
	return i.port
}

// Snapshot returns the system state, LED and sampling rate.
func (i *Instrument) Snapshot() (string, bool, float64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state, i.led, i.rate
}

func (i *Instrument) respond(req []byte) []byte {
	head, data, err := ParseRequest(req)
	if err != nil {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	switch head {
	case HeadEcho:
		return []byte{byte(HeadEcho), byte(data >> 8), byte(data)}
	case HeadReset:
		i.halt()
		i.state = StateIdle
		i.led = false
		i.boot = time.Now()
	case HeadClock:
		resp := []byte{byte(HeadClock), 0, 0}
		binary.LittleEndian.PutUint16(resp[1:], instrumentClock)

		return resp
	case HeadSystemState:
		code, _ := SystemStateCode(i.state)

		return []byte{byte(HeadSystemState), 0, code}
	case HeadPinState:
		pins := byte(0)
		if i.led {
			pins = 1
		}

		return []byte{byte(HeadPinState), 0, pins}
	case HeadRuntime:
		resp := make([]byte, RuntimeResponseSize)
		resp[0] = byte(HeadRuntime)
		binary.LittleEndian.PutUint64(resp[1:], uint64(time.Since(i.boot).Microseconds()))

		return resp
	case HeadFirmware:
		return []byte{byte(HeadFirmware), i.firmware[0], i.firmware[1]}
	case HeadLEDOn:
		i.led = true
	case HeadLEDOff:
		i.led = false
	case HeadLEDToggle:
		i.led = !i.led
	case HeadStartDAQ:
		if i.state != StateDAQ {
			i.state = StateDAQ
			i.stream()
		}
	case HeadStopDAQ:
		i.halt()
		i.state = StateIdle
	case HeadSamplingRate:
		i.rate = float64(data)
	default:
		i.state = StateError
	}

	return nil
}

// stream starts the frame generator. Callers hold mu.
func (i *Instrument) stream() {
	stop := make(chan struct{})
	i.stop = stop
	i.wg.Add(1)

	go func() {
		defer i.wg.Done()

		ticker := time.NewTicker(streamTick)
		defer ticker.Stop()

		began := time.Now()
		emitted := 0

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			if buf := i.frames(stop, began, &emitted); len(buf) > 0 {
				i.port.Feed(buf)
			}
		}
	}()
}

// frames encodes every frame due since began.
func (i *Instrument) frames(stop chan struct{}, began time.Time, emitted *int) []byte {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stop != stop {
		return nil
	}

	due := int(time.Since(began).Seconds() * i.rate)

	var buf []byte

	for ; *emitted < due; *emitted++ {
		ints := i.sine.Values()
		for ch := range ints {
			ints[ch] += sineOffset
		}

		buf = append(buf, i.layout.Encode(frame.Sample{
			Timestamp: time.Since(i.boot).Seconds(),
			Index:     int(i.index),
			Values:    ints,
		})...)
		i.index++
	}

	return buf
}

// halt stops the frame generator. Callers hold mu.
func (i *Instrument) halt() {
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
}

// Close stops streaming and closes the port.
func (i *Instrument) Close() error {
	i.mu.Lock()
	i.halt()
	i.mu.Unlock()

	i.wg.Wait()

	return i.port.Close()
}

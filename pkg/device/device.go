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

// Package device controls the acquisition instrument over its serial link
// and runs acquisition sessions on a supervisor.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/render"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
	"github.com/united-manufacturing-hub/daq-core/pkg/utilization"
	"github.com/united-manufacturing-hub/daq-core/pkg/workers"
)

// Conn is the serial link to the instrument.
type Conn interface {
	Read(n int) ([]byte, error)
	Write(b []byte) error
	Query(req []byte, n int) ([]byte, error)
	Name() string
	Close() error
}

// SystemState is everything the instrument reports about itself.
type SystemState struct {
	Pins     string  `json:"pins" yaml:"pins"`
	System   string  `json:"system" yaml:"system"`
	Runtime  float64 `json:"runtime" yaml:"runtimeSeconds"`
	ClockKHz int     `json:"clockKHz" yaml:"clockKHz"`
	Firmware string  `json:"firmware" yaml:"firmware"`
}

// Option configures a Device.
type Option func(*Device)

// WithResetSettle sets how long Reset waits for the instrument to reboot.
func WithResetSettle(d time.Duration) Option {
	return func(dev *Device) { dev.resetSettle = d }
}

// WithLayout sets the frame layout emitted by the instrument.
func WithLayout(l frame.Layout) Option {
	return func(dev *Device) { dev.layout = l }
}

// WithSamplingRate sets the rate assumed until SetSamplingRate is called.
func WithSamplingRate(hz float64) Option {
	return func(dev *Device) { dev.rate = hz }
}

// Device is the instrument API.
type Device struct {
	conn        Conn
	sup         *supervisor.Supervisor
	layout      frame.Layout
	rate        float64
	resetSettle time.Duration
	log         *zap.SugaredLogger
}

// New returns a device talking over conn and running sessions on sup.
func New(conn Conn, sup *supervisor.Supervisor, opts ...Option) *Device {
	d := &Device{
		conn:        conn,
		sup:         sup,
		layout:      frame.DefaultLayout,
		rate:        constants.DefaultSamplingRate,
		resetSettle: constants.DefaultResetSettle,
		log:         logger.For(logger.ComponentDevice),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Device) send(head Head, data uint16) error {
	if err := d.conn.Write(Request(head, data)); err != nil {
		return fmt.Errorf("command %d: %w", head, err)
	}

	return nil
}

func (d *Device) query(head Head, data uint16, size int) ([]byte, error) {
	resp, err := d.conn.Query(Request(head, data), size)
	if err != nil {
		return nil, fmt.Errorf("command %d: %w", head, err)
	}

	return resp, nil
}

// Echo sends text to the instrument and returns what it echoed.
func (d *Device) Echo(text string) (string, error) {
	chunks, padded := EchoChunks(text)

	var out []byte

	for _, chunk := range chunks {
		resp, err := d.query(HeadEcho, chunk, ResponseSize)
		if err != nil {
			return "", err
		}

		if err := expectHead(resp, HeadEcho); err != nil {
			return "", err
		}

		out = append(out, resp[1:]...)
	}

	if padded {
		out = out[:len(out)-1]
	}

	return string(out), nil
}

// ClockKHz returns the system clock.
func (d *Device) ClockKHz() (int, error) {
	resp, err := d.query(HeadClock, 0, ResponseSize)
	if err != nil {
		return 0, err
	}

	if err := expectHead(resp, HeadClock); err != nil {
		return 0, err
	}

	return 10 * int(binary.LittleEndian.Uint16(resp[1:])), nil
}

// System returns the system state name.
func (d *Device) System() (string, error) {
	resp, err := d.query(HeadSystemState, 0, ResponseSize)
	if err != nil {
		return "", err
	}

	return SystemStateName(resp[len(resp)-1])
}

// Pins returns the pin state name.
func (d *Device) Pins() (string, error) {
	resp, err := d.query(HeadPinState, 0, ResponseSize)
	if err != nil {
		return "", err
	}

	return PinStateName(resp[len(resp)-1]), nil
}

// Runtime returns the time since the last reset.
func (d *Device) Runtime() (time.Duration, error) {
	resp, err := d.query(HeadRuntime, 0, RuntimeResponseSize)
	if err != nil {
		return 0, err
	}

	if err := expectHead(resp, HeadRuntime); err != nil {
		return 0, err
	}

	return time.Duration(binary.LittleEndian.Uint64(resp[1:])) * time.Microsecond, nil
}

// Firmware returns the firmware version as major.minor.
func (d *Device) Firmware() (string, error) {
	resp, err := d.query(HeadFirmware, 0, ResponseSize)
	if err != nil {
		return "", err
	}

	if err := expectHead(resp, HeadFirmware); err != nil {
		return "", err
	}

	return fmt.Sprintf("%d.%d", resp[1], resp[2]), nil
}

// State queries every part of the system state.
func (d *Device) State() (SystemState, error) {
	var (
		st  SystemState
		err error
	)

	if st.Pins, err = d.Pins(); err != nil {
		return st, err
	}

	if st.System, err = d.System(); err != nil {
		return st, err
	}

	runtime, err := d.Runtime()
	if err != nil {
		return st, err
	}

	st.Runtime = runtime.Seconds()

	if st.ClockKHz, err = d.ClockKHz(); err != nil {
		return st, err
	}

	if st.Firmware, err = d.Firmware(); err != nil {
		return st, err
	}

	return st, nil
}

// LED actions.
const (
	LEDOn     = "on"
	LEDOff    = "off"
	LEDToggle = "toggle"
)

// SetLED switches the user LED.
func (d *Device) SetLED(action string) error {
	switch strings.ToLower(action) {
	case LEDOn:
		return d.send(HeadLEDOn, 0)
	case LEDOff:
		return d.send(HeadLEDOff, 0)
	case LEDToggle:
		return d.send(HeadLEDToggle, 0)
	default:
		return fmt.Errorf("unknown LED action %q", action)
	}
}

// SetSamplingRate changes the acquisition rate, in Hz.
func (d *Device) SetSamplingRate(hz float64) error {
	if hz < 0 || hz > constants.MaxSamplingRate {
		return fmt.Errorf("%w: %g Hz not in [0, %d]", ErrSamplingRate, hz, constants.MaxSamplingRate)
	}

	if err := d.send(HeadSamplingRate, uint16(hz)); err != nil {
		return err
	}

	d.rate = hz
	d.log.Infof("sampling rate set to %g Hz", hz)

	return nil
}

// SamplingRate returns the last rate set.
func (d *Device) SamplingRate() float64 {
	return d.rate
}

// Reset stops a running session, resets the instrument and waits for it to
// come back.
func (d *Device) Reset(ctx context.Context) error {
	var stopErr error
	if d.sup.State() == supervisor.StateRunning {
		stopErr = d.StopDAQ()
	}

	if err := d.send(HeadReset, 0); err != nil {
		return errors.Join(stopErr, err)
	}

	d.log.Infof("reset sent, waiting %s", d.resetSettle)

	select {
	case <-ctx.Done():
		return errors.Join(stopErr, ctx.Err())
	case <-time.After(d.resetSettle):
	}

	return stopErr
}

// DAQOptions select the optional workers of a session.
type DAQOptions struct {
	Bus   bus.Bus
	Store store.Store

	TrackUtilization bool
	UtilizationRate  float64
	// Utilization defaults to the host.
	Utilization utilization.Source

	// Plot enables the live view when set.
	Plot       render.Renderer
	PlotWindow time.Duration

	// PullTimeout bounds the recorders' wait on an empty stream.
	PullTimeout time.Duration
}

// StartDAQ registers the session workers, starts the supervisor and then
// tells the instrument to start streaming frames. The index column of the
// data stream is published but not recorded or plotted.
func (d *Device) StartDAQ(ctx context.Context, opts DAQOptions) error {
	if d.sup.State() == supervisor.StateRunning {
		return supervisor.ErrAlreadyRunning
	}

	if err := d.sup.Clear(); err != nil {
		return err
	}

	channels := make([]int, d.layout.Channels)
	for i := range channels {
		channels[i] = i + 1
	}

	p := workers.Pipeline{
		Bus:              opts.Bus,
		Store:            opts.Store,
		Data:             workers.NewFrameSource(d.conn, d.layout),
		DataInfo:         bus.NewStreamInfo(workers.DataStream, "daq", d.layout.Channels+1, d.rate, "uint16"),
		RecordColumns:    channels,
		TrackUtilization: opts.TrackUtilization,
		UtilizationRate:  opts.UtilizationRate,
		Utilization:      opts.Utilization,
		Plot:             opts.Plot,
		PlotColumns:      channels,
		PlotWindow:       opts.PlotWindow,
		PullTimeout:      opts.PullTimeout,
	}

	if err := p.Register(ctx, d.sup); err != nil {
		_ = d.sup.Clear()

		return err
	}

	if err := d.sup.Start(ctx); err != nil {
		return errors.Join(err, d.sup.Stop())
	}

	if err := d.send(HeadStartDAQ, 0); err != nil {
		return errors.Join(err, d.sup.Stop())
	}

	d.log.Infof("acquisition started on %s at %g Hz (session %s)", d.conn.Name(), d.rate, d.sup.Session())

	return nil
}

// StopDAQ stops the session and tells the instrument to stop streaming.
func (d *Device) StopDAQ() error {
	stopErr := d.sup.Stop()
	sendErr := d.send(HeadStopDAQ, 0)

	d.log.Infof("acquisition stopped (session %s)", d.sup.Session())

	return errors.Join(stopErr, sendErr)
}

// WaitDAQ blocks for dur while watching the session.
func (d *Device) WaitDAQ(ctx context.Context, dur time.Duration) error {
	return d.sup.WaitSeconds(ctx, dur)
}

// IsDAQRunning reports whether the instrument is acquiring and every task of
// the session is alive.
func (d *Device) IsDAQRunning() bool {
	system, err := d.System()
	if err != nil {
		d.log.Debugf("query system state: %s", err)

		return false
	}

	return system == StateDAQ && d.sup.IsAlive()
}

// Close closes the serial link.
func (d *Device) Close() error {
	return d.conn.Close()
}

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

// Package serial is the byte channel to the instrument.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// ErrPortNotFound is returned when no port matches the USB ids.
var ErrPortNotFound = errors.New("no serial port with matching USB ids")

// Port is the part of a serial port the channel uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Config selects and configures the port.
type Config struct {
	// Port is a device path, or empty to search by VendorID and ProductID.
	Port        string
	VendorID    string
	ProductID   string
	BaudRate    int
	ReadTimeout time.Duration
	// OpenTimeout bounds the retries while the device enumerates.
	OpenTimeout time.Duration
}

// Channel reads and writes whole messages with a bounded read timeout.
// Reads and writes are serialised.
type Channel struct {
	mu      sync.Mutex
	port    Port
	timeout time.Duration
	name    string
}

// NewChannel wraps an open port.
func NewChannel(port Port, name string, timeout time.Duration) (*Channel, error) {
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}

	return &Channel{port: port, timeout: timeout, name: name}, nil
}

// Open finds and opens the configured port, retrying until OpenTimeout.
func Open(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Channel, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = cfg.OpenTimeout

	var (
		port Port
		name string
	)

	err := backoff.Retry(func() error {
		var err error

		name = cfg.Port
		if name == "" {
			if name, err = FindPort(cfg.VendorID, cfg.ProductID); err != nil {
				log.Debugf("waiting for device %s:%s: %s", cfg.VendorID, cfg.ProductID, err)

				return err
			}
		}

		port, err = bugst.Open(name, &bugst.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			log.Debugf("opening %s: %s", name, err)

			return err
		}

		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("open serial port: %w", err)
	}

	log.Infof("opened %s at %d baud", name, cfg.BaudRate)

	ch, err := NewChannel(port, name, cfg.ReadTimeout)
	if err != nil {
		_ = port.Close()

		return nil, err
	}

	return ch, nil
}

// FindPort returns the first USB port whose vendor and product id match.
func FindPort(vendorID, productID string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}

	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, vendorID) && strings.EqualFold(p.PID, productID) {
			return p.Name, nil
		}
	}

	return "", fmt.Errorf("%w: %s:%s", ErrPortNotFound, vendorID, productID)
}

// Name returns the port name.
func (c *Channel) Name() string {
	return c.name
}

// Read reads up to n bytes. It returns fewer bytes, possibly none, when the
// read timeout elapses first.
func (c *Channel) Read(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.read(n)
}

func (c *Channel) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	deadline := time.Now().Add(c.timeout)
	got := 0

	for got < n && time.Now().Before(deadline) {
		m, err := c.port.Read(buf[got:])
		if err != nil {
			return buf[:got], fmt.Errorf("read %s: %w", c.name, err)
		}

		if m == 0 {
			// The port timed out.
			break
		}

		got += m
	}

	return buf[:got], nil
}

// Write writes b completely.
func (c *Channel) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(b)
}

func (c *Channel) write(b []byte) error {
	for len(b) > 0 {
		n, err := c.port.Write(b)
		if err != nil {
			return fmt.Errorf("write %s: %w", c.name, err)
		}

		b = b[n:]
	}

	return nil
}

// Query discards pending input, writes req and reads a response of n bytes.
func (c *Channel) Query(req []byte, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("reset input of %s: %w", c.name, err)
	}

	if err := c.write(req); err != nil {
		return nil, err
	}

	resp, err := c.read(n)
	if err != nil {
		return nil, err
	}

	if len(resp) != n {
		return resp, fmt.Errorf("short response from %s: %d of %d bytes", c.name, len(resp), n)
	}

	return resp, nil
}

// Close closes the port.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port.Close()
}

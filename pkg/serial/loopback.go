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

package serial

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// LoopbackPort is an in-memory Port. Bytes written by the host are handed
// to Respond, whose answer becomes readable. Reads with nothing buffered
// wait for the read timeout and return zero bytes.
type LoopbackPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      bytes.Buffer
	timeout time.Duration
	closed  bool
	// Written collects every write.
	Written bytes.Buffer
	// Respond computes the answer to a write. May be nil.
	Respond func(req []byte) []byte
}

// NewLoopbackPort returns an open loopback port.
func NewLoopbackPort(respond func(req []byte) []byte) *LoopbackPort {
	p := &LoopbackPort{Respond: respond, timeout: 100 * time.Millisecond}
	p.cond = sync.NewCond(&p.mu)

	return p
}

// Feed makes b readable.
func (p *LoopbackPort) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.in.Write(b)
	p.cond.Broadcast()
}

func (p *LoopbackPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.timeout)
	timer := time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	for p.in.Len() == 0 && !p.closed && time.Now().Before(deadline) {
		p.cond.Wait()
	}

	if p.closed {
		return 0, errors.New("port closed")
	}

	if p.in.Len() == 0 {
		return 0, nil
	}

	return p.in.Read(b)
}

func (p *LoopbackPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}

	p.Written.Write(b)

	if p.Respond != nil {
		if resp := p.Respond(append([]byte(nil), b...)); len(resp) > 0 {
			p.in.Write(resp)
			p.cond.Broadcast()
		}
	}

	return len(b), nil
}

func (p *LoopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()

	return nil
}

func (p *LoopbackPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timeout = t

	return nil
}

func (p *LoopbackPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.in.Reset()

	return nil
}

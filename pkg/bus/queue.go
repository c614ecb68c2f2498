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

package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errInletClosed = errors.New("inlet is closed")

// queueInlet buffers pushed samples for one reader. When the buffer is full
// the newest samples are dropped and counted.
type queueInlet struct {
	info    StreamInfo
	ch      chan Sample
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	onClose func()
}

func newQueueInlet(info StreamInfo, size int, onClose func()) *queueInlet {
	return &queueInlet{
		info:    info,
		ch:      make(chan Sample, size),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (q *queueInlet) offer(s Sample) {
	select {
	case <-q.done:
	case q.ch <- s:
	default:
		q.dropped.Add(1)
	}
}

func (q *queueInlet) Info() StreamInfo {
	return q.info
}

// Dropped returns the number of samples lost to a full buffer.
func (q *queueInlet) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *queueInlet) Pull(ctx context.Context, max int, timeout time.Duration) ([]Sample, error) {
	if max < 1 {
		max = 1
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []Sample

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, errInletClosed
	case <-timer.C:
		return nil, nil
	case s := <-q.ch:
		out = append(out, s)
	}

	for len(out) < max {
		select {
		case s := <-q.ch:
			out = append(out, s)
		default:
			return out, nil
		}
	}

	return out, nil
}

func (q *queueInlet) Close() error {
	q.once.Do(func() {
		close(q.done)

		if q.onClose != nil {
			q.onClose()
		}
	})

	return nil
}

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

package supervisor

import "sync"

// heartbeats is the per-session heartbeat matrix and miss counter.
// Workers mark their slot, the watchdog polls.
type heartbeats struct {
	mu      sync.Mutex
	beats   []bool
	misses  int
	missing []int
}

func (h *heartbeats) reset(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.beats = make([]bool, n)
	h.misses = 0
	h.missing = nil
}

func (h *heartbeats) mark(slot int) {
	h.mu.Lock()
	h.beats[slot] = true
	h.mu.Unlock()
}

// poll reads and clears every slot. It returns the miss count after this
// poll and the slots that were not marked since the previous poll.
func (h *heartbeats) poll() (int, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var missing []int

	for i, ok := range h.beats {
		if !ok {
			missing = append(missing, i)
		}

		h.beats[i] = false
	}

	if len(missing) == 0 {
		h.misses = 0
	} else {
		h.misses++
		h.missing = missing
	}

	return h.misses, missing
}

// lastMissing returns the slots that missed the most recent failed poll.
func (h *heartbeats) lastMissing() (int, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.misses, append([]int(nil), h.missing...)
}

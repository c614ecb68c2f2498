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

import "context"

// Worker performs one bounded unit of work per call. Step must return within
// a short, bounded time so that the session can observe cancellation; a nil
// return counts as a heartbeat. Errors are queued as faults and the worker is
// called again.
type Worker interface {
	Step(ctx context.Context) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context) error

// Step calls f.
func (f WorkerFunc) Step(ctx context.Context) error {
	return f(ctx)
}

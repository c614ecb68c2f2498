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

// Package shutdown turns SIGINT and SIGTERM into a bounded, graceful stop.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Handler coordinates one shutdown.
type Handler interface {
	// Context is cancelled as soon as a shutdown begins.
	Context() context.Context
	// Shutdown triggers a shutdown programmatically.
	Shutdown()
	// ShuttingDown reports whether a shutdown is in progress.
	ShuttingDown() bool
	// Wait blocks until the shutdown tasks completed or timed out and
	// returns their error.
	Wait() error
}

type handler struct {
	quit   chan os.Signal
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	err    error
}

// New installs the signal handler. After a signal or Shutdown, onShutdown
// runs with a context bounded by timeout. A nil onShutdown only cancels
// Context.
func New(parent context.Context, onShutdown func(context.Context) error, timeout time.Duration, log *zap.SugaredLogger) Handler {
	ctx, cancel := context.WithCancel(parent)
	h := &handler{
		quit:   make(chan os.Signal, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	signal.Notify(h.quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(h.done)
		defer signal.Stop(h.quit)

		select {
		case sig := <-h.quit:
			log.Infow("received signal, shutting down", "signal", sig.String())
		case <-parent.Done():
			log.Infow("context done, shutting down", "reason", parent.Err())
		}

		h.cancel()

		if onShutdown == nil {
			return
		}

		log.Infow("waiting for shutdown tasks to complete", "timeout", timeout)

		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer stopCancel()

		result := make(chan error, 1)
		go func() { result <- onShutdown(stopCtx) }()

		select {
		case h.err = <-result:
			if h.err != nil {
				log.Errorw("error during shutdown", "error", h.err)
			}
		case <-stopCtx.Done():
			h.err = stopCtx.Err()
			log.Errorw("shutdown tasks did not complete in time", "timeout", timeout)
		}
	}()

	return h
}

func (h *handler) Context() context.Context {
	return h.ctx
}

func (h *handler) Shutdown() {
	h.once.Do(func() {
		select {
		case h.quit <- syscall.SIGTERM:
		default:
		}
	})
}

func (h *handler) ShuttingDown() bool {
	return h.ctx.Err() != nil
}

func (h *handler) Wait() error {
	<-h.done

	return h.err
}

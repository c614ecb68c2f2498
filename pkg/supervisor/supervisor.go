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

// Package supervisor runs a set of workers as one acquisition session.
//
// Workers are registered, then started together with a watchdog. Every
// worker calls Step in a loop while the session signal is set; a successful
// step marks the worker's heartbeat. The watchdog clears the heartbeats every
// poll interval and declares the session unhealthy after a number of
// consecutive polls in which some worker did not report. Errors raised by
// workers never cross goroutines directly; they are queued and surfaced by
// CheckFault and WaitSeconds.
//
//	s := supervisor.New()
//	_ = s.Register("publisher", publisher)
//	_ = s.Register("recorder", recorder)
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer s.Stop()
//	return s.WaitSeconds(ctx, time.Minute)
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
)

type options struct {
	watchdogInterval time.Duration
	threshold        int
	settleDelay      time.Duration
	joinTimeout      time.Duration
	pollInterval     time.Duration
	maxFaultBackoff  time.Duration
	log              *zap.SugaredLogger
}

// Option configures a Supervisor.
type Option func(*options)

// WithWatchdogInterval sets the heartbeat poll interval.
func WithWatchdogInterval(d time.Duration) Option {
	return func(o *options) { o.watchdogInterval = d }
}

// WithWatchdogThreshold sets the number of consecutive missed polls that
// make a session unhealthy.
func WithWatchdogThreshold(n int) Option {
	return func(o *options) { o.threshold = n }
}

// WithSettleDelay sets how long Start waits before returning.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

// WithJoinTimeout bounds the wait per task in Stop.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) { o.joinTimeout = d }
}

// WithPollInterval sets the cadence of WaitSeconds.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithMaxFaultBackoff caps the pause a worker takes after consecutive faults.
func WithMaxFaultBackoff(d time.Duration) Option {
	return func(o *options) { o.maxFaultBackoff = d }
}

// WithLogger replaces the component logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

type registration struct {
	name   string
	worker Worker
}

// task is one goroutine of a session.
type task struct {
	name   string
	slot   int
	worker Worker
	alive  atomic.Bool
	done   chan struct{}
}

func newTask(name string, slot int, w Worker) *task {
	t := &task{name: name, slot: slot, worker: w, done: make(chan struct{})}
	t.alive.Store(true)

	return t
}

func (t *task) exit() {
	t.alive.Store(false)
	close(t.done)
}

// session is the state owned by one Start/Stop cycle. Goroutines hold on to
// their own session so that stragglers of a previous cycle never touch the
// current one.
type session struct {
	id       uuid.UUID
	signal   atomic.Bool
	healthy  atomic.Bool
	cancel   context.CancelFunc
	beats    heartbeats
	workers  []*task
	watchdog *task
}

func (s *session) tasks() []*task {
	return append(slices.Clone(s.workers), s.watchdog)
}

// Supervisor owns the worker registry, the session signal, the heartbeat
// matrix, the watchdog and the fault queue.
type Supervisor struct {
	mu        sync.Mutex
	registry  []registration
	lifecycle *fsm.FSM
	current   atomic.Pointer[session]
	faults    *FaultQueue
	opts      options
	log       *zap.SugaredLogger
}

// New returns an idle Supervisor.
func New(opts ...Option) *Supervisor {
	o := options{
		watchdogInterval: constants.WatchdogInterval,
		threshold:        constants.WatchdogThreshold,
		settleDelay:      constants.SettleDelay,
		joinTimeout:      constants.JoinTimeout,
		pollInterval:     constants.FaultPollInterval,
		maxFaultBackoff:  time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.log == nil {
		o.log = logger.For(logger.ComponentSupervisor)
	}

	return &Supervisor{
		lifecycle: newLifecycle(o.log),
		faults:    NewFaultQueue(),
		opts:      o,
		log:       o.log,
	}
}

// Register adds a worker to the next session. It fails while a session is
// running. The first registration after a Stop clears the workers of the
// previous session.
func (s *Supervisor) Register(name string, w Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.lifecycle.Current() {
	case StateRunning:
		return ErrAlreadyRunning
	case StateStopped:
		if err := s.lifecycle.Event(context.Background(), eventRearm); err != nil {
			return err
		}

		s.registry = nil
	}

	if w == nil {
		return fmt.Errorf("worker %q is nil", name)
	}

	if name == "" {
		name = fmt.Sprintf("worker-%d", len(s.registry))
	}

	if name == WatchdogName || slices.ContainsFunc(s.registry, func(r registration) bool { return r.name == name }) {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, name)
	}

	s.registry = append(s.registry, registration{name: name, worker: w})
	s.log.Debugf("registered worker %s (%d total)", name, len(s.registry))

	return nil
}

// Clear drops every registered worker. It fails while a session is running.
func (s *Supervisor) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.Current() == StateRunning {
		return ErrAlreadyRunning
	}

	s.registry = nil

	return nil
}

// Tasks returns the names of all tasks the next or current session runs,
// including the watchdog once at least one worker is registered.
func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.registry) == 0 {
		return nil
	}

	names := make([]string, 0, len(s.registry)+1)
	for _, r := range s.registry {
		names = append(names, r.name)
	}

	return append(names, WatchdogName)
}

// Start launches every registered worker and the watchdog and returns after
// the settle delay. A fault raised within the settle delay is returned
// wrapped in ErrStartupFault; the session keeps running and must be stopped
// by the caller.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()

	switch s.lifecycle.Current() {
	case StateRunning:
		s.mu.Unlock()

		return ErrAlreadyRunning
	case StateStopped:
		if err := s.lifecycle.Event(ctx, eventRearm); err != nil {
			s.mu.Unlock()

			return err
		}
	}

	if len(s.registry) == 0 {
		s.mu.Unlock()

		return ErrNoWorkers
	}

	sess := &session{id: uuid.New()}
	sess.beats.reset(len(s.registry))

	for i, r := range s.registry {
		sess.workers = append(sess.workers, newTask(r.name, i, r.worker))
	}

	sess.watchdog = newTask(WatchdogName, -1, nil)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel
	sess.healthy.Store(true)
	sess.signal.Store(true)

	if err := s.lifecycle.Event(ctx, eventStart); err != nil {
		cancel()
		s.mu.Unlock()

		return err
	}

	s.current.Store(sess)
	metrics.SetSessionHealthy(true)

	for _, t := range sess.workers {
		go s.runWorker(runCtx, sess, t)
	}

	go s.runWatchdog(runCtx, sess)

	s.log.Infof("[%s] session started with %d workers", sess.id, len(sess.workers))
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.settleDelay):
	}

	// Faults left over from an earlier session stay queued for CheckFault.
	if err := s.faults.PopFunc(sess.owns); err != nil {
		return fmt.Errorf("%w: %w", ErrStartupFault, err)
	}

	return nil
}

func (s *Supervisor) runWorker(ctx context.Context, sess *session, t *task) {
	defer t.exit()

	if c, ok := t.worker.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				s.log.Warnf("[%s] closing worker %s: %s", sess.id, t.name, err)
			}
		}()
	}

	pause := backoff.NewExponentialBackOff()
	pause.InitialInterval = 10 * time.Millisecond
	pause.MaxInterval = s.opts.maxFaultBackoff
	pause.MaxElapsedTime = 0
	pause.Reset()

	for sess.signal.Load() {
		began := time.Now()
		err := step(ctx, t.worker)
		metrics.ObserveStep(t.name, time.Since(began))

		if err == nil {
			sess.beats.mark(t.slot)
			pause.Reset()

			continue
		}

		// Errors raised while the session shuts down are not faults.
		if ctx.Err() != nil || !sess.signal.Load() {
			return
		}

		fault := &WorkerFault{Session: sess.id, Worker: t.name, Err: err, At: time.Now(), Threads: s.threadsOf(err)}
		s.faults.Push(fault)
		metrics.IncWorkerFault(t.name)
		sentry.ReportWorkerFault(s.log, sess.id.String(), t.name, err, fault.Threads)

		select {
		case <-ctx.Done():
			return
		case <-time.After(pause.NextBackOff()):
		}
	}
}

// step runs one unit of work and turns a panic into an error.
func step(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	return w.Step(ctx)
}

func panicError(r interface{}) error {
	return &PanicError{Value: r, Stack: debug.Stack()}
}

// threadsOf parses the stack of a panic. Other errors carry no threads.
func (s *Supervisor) threadsOf(err error) []sentry.Thread {
	var p *PanicError
	if !errors.As(err, &p) {
		return nil
	}

	threads, perr := sentry.ParseThreads(p.Stack)
	if perr != nil {
		s.log.Debugf("parsing panic stack: %s", perr)
	}

	for i := range threads {
		threads[i].Crashed = true
		threads[i].Current = true
	}

	return threads
}

// owns reports whether err is a fault raised by this session.
func (sess *session) owns(err error) bool {
	var wf *WorkerFault

	return errors.As(err, &wf) && wf.Session == sess.id
}

// Stop clears the session signal and waits for every task up to the join
// timeout. Tasks that do not exit in time are returned as joined
// JoinTimeout errors; the session counts as stopped either way.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.current.Load()
	if sess == nil || s.lifecycle.Current() != StateRunning {
		return nil
	}

	sess.signal.Store(false)
	sess.cancel()

	if err := s.lifecycle.Event(context.Background(), eventStop); err != nil {
		s.log.Errorf("[%s] stop transition: %s", sess.id, err)
	}

	metrics.SetSessionHealthy(false)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		timeouts []error
	)

	for _, t := range sess.tasks() {
		g.Go(func() error {
			select {
			case <-t.done:
			case <-time.After(s.opts.joinTimeout):
				s.log.Warnf("[%s] task %s did not exit within %s", sess.id, t.name, s.opts.joinTimeout)
				mu.Lock()
				timeouts = append(timeouts, &JoinTimeout{Task: t.name, After: s.opts.joinTimeout})
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	s.log.Infof("[%s] session stopped", sess.id)

	return errors.Join(timeouts...)
}

// IsAlive reports whether every task of the current session, including the
// watchdog, is still executing.
func (s *Supervisor) IsAlive() bool {
	sess := s.current.Load()
	if sess == nil {
		return false
	}

	for _, t := range sess.tasks() {
		if !t.alive.Load() {
			return false
		}
	}

	return true
}

// IsRunning reports whether the session signal is set and the watchdog has
// not declared the session unhealthy.
func (s *Supervisor) IsRunning() bool {
	sess := s.current.Load()

	return sess != nil && sess.signal.Load() && sess.healthy.Load()
}

// CheckFault pops the oldest queued fault. It returns nil when no fault is
// pending.
func (s *Supervisor) CheckFault() error {
	return s.faults.Pop()
}

// PendingFaults returns the number of queued faults.
func (s *Supervisor) PendingFaults() int {
	return s.faults.Len()
}

// WaitSeconds blocks for d while checking the session once per poll
// interval. It returns the first queued fault, a RuntimeFault once the
// session stops running, or ctx.Err().
func (s *Supervisor) WaitSeconds(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)

	for {
		if err := s.CheckFault(); err != nil {
			return err
		}

		if !s.IsRunning() {
			return s.runtimeFault()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, s.opts.pollInterval)):
		}
	}
}

func (s *Supervisor) runtimeFault() *RuntimeFault {
	sess := s.current.Load()
	if sess == nil {
		return &RuntimeFault{}
	}

	misses, missing := sess.beats.lastMissing()
	if sess.healthy.Load() {
		return &RuntimeFault{}
	}

	return &RuntimeFault{Stalled: s.workerNames(sess, missing), Misses: misses}
}

// Stalled returns the workers that missed the last failed heartbeat poll of
// the current session.
func (s *Supervisor) Stalled() []string {
	sess := s.current.Load()
	if sess == nil {
		return nil
	}

	_, missing := sess.beats.lastMissing()

	return s.workerNames(sess, missing)
}

func (s *Supervisor) workerNames(sess *session, slots []int) []string {
	names := make([]string, 0, len(slots))
	for _, slot := range slots {
		names = append(names, sess.workers[slot].name)
	}

	return names
}

// State returns the lifecycle state.
func (s *Supervisor) State() string {
	return s.lifecycle.Current()
}

// Session returns the id of the current or last session.
func (s *Supervisor) Session() uuid.UUID {
	if sess := s.current.Load(); sess != nil {
		return sess.id
	}

	return uuid.Nil
}

// TaskStatus is the liveness of one task.
type TaskStatus struct {
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
}

// Status is a snapshot of the supervisor for reporting.
type Status struct {
	Session       string       `json:"session"`
	State         string       `json:"state"`
	Alive         bool         `json:"alive"`
	Running       bool         `json:"running"`
	Stalled       []string     `json:"stalled"`
	PendingFaults int          `json:"pendingFaults"`
	Tasks         []TaskStatus `json:"tasks"`
}

// Status returns a snapshot of the session.
func (s *Supervisor) Status() Status {
	st := Status{
		Session:       s.Session().String(),
		State:         s.State(),
		Alive:         s.IsAlive(),
		Running:       s.IsRunning(),
		Stalled:       s.Stalled(),
		PendingFaults: s.PendingFaults(),
	}

	if sess := s.current.Load(); sess != nil {
		for _, t := range sess.tasks() {
			st.Tasks = append(st.Tasks, TaskStatus{Name: t.name, Alive: t.alive.Load()})
		}
	}

	return st
}

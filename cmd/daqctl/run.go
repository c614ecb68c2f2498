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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/daq-core/internal/shutdown"
	"github.com/united-manufacturing-hub/daq-core/pkg/device"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
	"github.com/united-manufacturing-hub/daq-core/pkg/render"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
	"github.com/united-manufacturing-hub/daq-core/pkg/status"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
	"github.com/united-manufacturing-hub/daq-core/pkg/version"
)

const (
	// untilSignal stands in for an unbounded session.
	untilSignal     = 100 * 365 * 24 * time.Hour
	shutdownTimeout = 10 * time.Second
	serverTimeout   = 3 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an acquisition session until the duration elapses, a fault occurs or a signal arrives",
	RunE:  runSession,
}

func init() {
	runCmd.Flags().Duration("duration", 0, "Session length, 0 runs until interrupted")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCLI)
	log.Infof("starting daqctl %s", version.GetAppVersion())

	cfg, err := loadConfig(cmd, log)
	if err != nil {
		return err
	}

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		duration = untilSignal
	}

	ctx := cmd.Context()

	sess, err := openDevice(ctx, cmd, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	b, err := cfg.Bus.Open(ctx, logger.For(logger.ComponentBus))
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := sess.dev.SetSamplingRate(cfg.Device.SamplingRate); err != nil {
		return err
	}

	opts := device.DAQOptions{
		Bus:              b,
		Store:            store.NewFileStore(cfg.Session.DataFolder),
		TrackUtilization: cfg.Session.TrackUtilization,
		UtilizationRate:  cfg.Session.UtilizationRate,
		PlotWindow:       cfg.Session.PlotWindow,
	}
	if cfg.Session.PlotOutput != "" {
		opts.Plot = render.NewPNG(cfg.Session.PlotOutput)
	}

	// From here on every exit goes through the shutdown handler, which stops
	// both servers.
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort))
	statusServer := status.Serve(fmt.Sprintf(":%d", cfg.StatusPort), sess.sup, cfg.Session.DataFolder)

	handler := shutdown.New(ctx, func(stopCtx context.Context) error {
		var g errgroup.Group

		g.Go(sess.dev.StopDAQ)
		g.Go(func() error { return shutdownServer(stopCtx, metricsServer) })
		g.Go(func() error { return shutdownServer(stopCtx, statusServer) })

		return g.Wait()
	}, shutdownTimeout, log)

	if err := sess.dev.StartDAQ(handler.Context(), opts); err != nil {
		handler.Shutdown()
		_ = handler.Wait()

		return err
	}

	waitErr := sess.dev.WaitDAQ(handler.Context(), duration)

	switch {
	case waitErr == nil:
		log.Infof("session %s completed after %s", sess.sup.Session(), duration)
	case errors.Is(waitErr, context.Canceled):
		waitErr = nil
	case supervisor.IsRuntimeFault(waitErr):
		sentry.ReportIssue(waitErr, sentry.IssueTypeError, log)
	default:
		log.Errorf("session %s failed: %s", sess.sup.Session(), waitErr)
	}

	handler.Shutdown()

	return errors.Join(waitErr, handler.Wait())
}

func shutdownServer(ctx context.Context, server *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, serverTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}

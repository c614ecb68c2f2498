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

// Package config loads the acquisition configuration from a YAML file and
// applies environment overrides on top.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/env"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
	"github.com/united-manufacturing-hub/daq-core/pkg/serial"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
)

// Environment variables overriding the file.
const (
	EnvPort         = "DAQ_PORT"
	EnvSamplingRate = "DAQ_SAMPLING_RATE"
	EnvDataFolder   = "DAQ_DATA_FOLDER"
	EnvBus          = "DAQ_BUS"
	EnvBusAddress   = "DAQ_BUS_ADDR"
	EnvMetricsPort  = "METRICS_PORT"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusMQTT   = "mqtt"
)

// Config is the complete configuration of daqctl.
type Config struct {
	Device      DeviceConfig  `yaml:"device"`
	Session     SessionConfig `yaml:"session"`
	Bus         BusConfig     `yaml:"bus"`
	MetricsPort int           `yaml:"metricsPort"`
	StatusPort  int           `yaml:"statusPort"`
}

// DeviceConfig selects the instrument.
type DeviceConfig struct {
	// Port is a device path or AUTO to search by USB ids.
	Port         string        `yaml:"port"`
	VendorID     string        `yaml:"vendorId"`
	ProductID    string        `yaml:"productId"`
	BaudRate     int           `yaml:"baudRate"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	OpenTimeout  time.Duration `yaml:"openTimeout"`
	SamplingRate float64       `yaml:"samplingRate"`
	Channels     int           `yaml:"channels"`
}

// SessionConfig shapes one acquisition session.
type SessionConfig struct {
	DataFolder        string        `yaml:"dataFolder"`
	PlotWindow        time.Duration `yaml:"plotWindow"`
	// PlotOutput is the image the live plot is drawn to. Empty disables it.
	PlotOutput        string        `yaml:"plotOutput"`
	TrackUtilization  bool          `yaml:"trackUtilization"`
	UtilizationRate   float64       `yaml:"utilizationRate"`
	WatchdogInterval  time.Duration `yaml:"watchdogInterval"`
	WatchdogThreshold int           `yaml:"watchdogThreshold"`
	SettleDelay       time.Duration `yaml:"settleDelay"`
	JoinTimeout       time.Duration `yaml:"joinTimeout"`
	ResetSettle       time.Duration `yaml:"resetSettle"`
}

// BusConfig selects the sample transport.
type BusConfig struct {
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
	// ClientID is used by the MQTT transport.
	ClientID string `yaml:"clientId"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Port:         constants.AutoPort,
			VendorID:     constants.DefaultVendorID,
			ProductID:    constants.DefaultProductID,
			BaudRate:     constants.DefaultBaudRate,
			ReadTimeout:  constants.DefaultReadTimeout,
			OpenTimeout:  10 * time.Second,
			SamplingRate: constants.DefaultSamplingRate,
			Channels:     constants.DefaultChannels,
		},
		Session: SessionConfig{
			DataFolder:        constants.DefaultDataFolder,
			PlotWindow:        constants.DefaultPlotWindow,
			UtilizationRate:   constants.DefaultUtilizationRate,
			WatchdogInterval:  constants.WatchdogInterval,
			WatchdogThreshold: constants.WatchdogThreshold,
			SettleDelay:       constants.SettleDelay,
			JoinTimeout:       constants.JoinTimeout,
			ResetSettle:       constants.DefaultResetSettle,
		},
		Bus:         BusConfig{Kind: BusMemory, ClientID: "daqctl"},
		MetricsPort: constants.DefaultMetricsPort,
		StatusPort:  constants.DefaultStatusPort,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides replaces file values by the set environment variables.
// Every unparsable variable is reported; the file value is kept for it.
func ApplyEnvOverrides(cfg Config) (Config, error) {
	var errs []error

	cfg.Device.Port = env.String(EnvPort, cfg.Device.Port)
	cfg.Session.DataFolder = env.String(EnvDataFolder, cfg.Session.DataFolder)
	cfg.Bus.Kind = env.String(EnvBus, cfg.Bus.Kind)
	cfg.Bus.Address = env.String(EnvBusAddress, cfg.Bus.Address)

	rate, err := env.Float(EnvSamplingRate, cfg.Device.SamplingRate)
	errs = append(errs, err)
	cfg.Device.SamplingRate = rate

	port, err := env.Int(EnvMetricsPort, cfg.MetricsPort)
	errs = append(errs, err)
	cfg.MetricsPort = port

	return cfg, errors.Join(errs...)
}

// LoadWithEnvOverrides loads path, applies the environment and validates the
// result. Unparsable environment variables are reported as warnings.
//
// Order of precedence (highest to lowest):
// 1. Environment variables
// 2. Config file values
// 3. Default values
func LoadWithEnvOverrides(path string, log *zap.SugaredLogger) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}

	cfg, err = ApplyEnvOverrides(cfg)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "ignoring environment override: %s", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error

	if c.Device.SamplingRate < 0 || c.Device.SamplingRate > constants.MaxSamplingRate {
		errs = append(errs, fmt.Errorf("device.samplingRate %g not in [0, %d]", c.Device.SamplingRate, constants.MaxSamplingRate))
	}

	if c.Device.Channels < constants.DefaultChannels {
		errs = append(errs, fmt.Errorf("device.channels must be at least %d, got %d", constants.DefaultChannels, c.Device.Channels))
	}

	if c.Device.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("device.baudRate must be positive, got %d", c.Device.BaudRate))
	}

	if c.Device.ReadTimeout <= 0 {
		errs = append(errs, errors.New("device.readTimeout must be positive"))
	}

	if c.Device.ReadTimeout >= c.Session.JoinTimeout {
		errs = append(errs, fmt.Errorf("session.joinTimeout %s must exceed device.readTimeout %s", c.Session.JoinTimeout, c.Device.ReadTimeout))
	}

	if c.Session.DataFolder == "" {
		errs = append(errs, errors.New("session.dataFolder is empty"))
	}

	if c.Session.WatchdogInterval <= 0 || c.Session.WatchdogThreshold < 1 {
		errs = append(errs, errors.New("session.watchdogInterval and session.watchdogThreshold must be positive"))
	}

	if c.Session.TrackUtilization && c.Session.UtilizationRate <= 0 {
		errs = append(errs, errors.New("session.utilizationRate must be positive"))
	}

	switch c.Bus.Kind {
	case BusMemory:
	case BusRedis, BusMQTT:
		if c.Bus.Address == "" {
			errs = append(errs, fmt.Errorf("bus.address is required for %s", c.Bus.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.kind %q is not one of %s, %s, %s", c.Bus.Kind, BusMemory, BusRedis, BusMQTT))
	}

	for _, p := range []int{c.MetricsPort, c.StatusPort} {
		if p < 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range", p))
		}
	}

	return errors.Join(errs...)
}

// Serial returns the serial port settings.
func (c Config) Serial() serial.Config {
	port := c.Device.Port
	if strings.EqualFold(port, constants.AutoPort) {
		port = ""
	}

	return serial.Config{
		Port:        port,
		VendorID:    c.Device.VendorID,
		ProductID:   c.Device.ProductID,
		BaudRate:    c.Device.BaudRate,
		ReadTimeout: c.Device.ReadTimeout,
		OpenTimeout: c.Device.OpenTimeout,
	}
}

// SupervisorOptions returns the session timings.
func (c Config) SupervisorOptions() []supervisor.Option {
	return []supervisor.Option{
		supervisor.WithWatchdogInterval(c.Session.WatchdogInterval),
		supervisor.WithWatchdogThreshold(c.Session.WatchdogThreshold),
		supervisor.WithSettleDelay(c.Session.SettleDelay),
		supervisor.WithJoinTimeout(c.Session.JoinTimeout),
	}
}

// Open connects the configured transport.
func (b BusConfig) Open(ctx context.Context, log *zap.SugaredLogger) (bus.Bus, error) {
	switch b.Kind {
	case BusMemory, "":
		return bus.NewMemory(), nil
	case BusRedis:
		r, err := bus.NewRedis(ctx, b.Address, 10*time.Second, log)
		if err != nil {
			return nil, err
		}

		return r, nil
	case BusMQTT:
		m, err := bus.NewMQTT(bus.MQTTConfig{BrokerURL: b.Address, ClientID: b.ClientID}, log)
		if err != nil {
			return nil, err
		}

		return m, nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", b.Kind)
	}
}

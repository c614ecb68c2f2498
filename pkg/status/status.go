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

// Package status serves the health and state of the running session over
// HTTP.
package status

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
)

// Source is what the API reports on.
type Source interface {
	IsRunning() bool
	Status() supervisor.Status
}

// Recording is one entry of GET /recordings.
type Recording struct {
	File         string  `json:"file"`
	Stream       string  `json:"stream"`
	SamplingRate float64 `json:"samplingRate"`
	ChannelCount int     `json:"channelCount"`
	Rows         int     `json:"rows"`
}

// NewRouter builds the API. dataFolder may be empty to disable /recordings.
func NewRouter(src Source, dataFolder string, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/health", func(c *gin.Context) {
		if src.IsRunning() {
			c.String(http.StatusOK, "running")

			return
		}

		c.String(http.StatusServiceUnavailable, "not running")
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	})

	if dataFolder != "" {
		router.GET("/recordings", func(c *gin.Context) {
			recordings, err := listRecordings(dataFolder)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

				return
			}

			c.JSON(http.StatusOK, recordings)
		})
	}

	return router
}

func listRecordings(dir string) ([]Recording, error) {
	paths, err := store.List(dir)
	if err != nil {
		return nil, err
	}

	out := make([]Recording, 0, len(paths))
	for _, p := range paths {
		rec, err := store.ReadRecording(p)
		if err != nil {
			// Unreadable files are left out.
			continue
		}

		out = append(out, Recording{
			File:         filepath.Base(p),
			Stream:       rec.Stream,
			SamplingRate: rec.SamplingRate,
			ChannelCount: rec.ChannelCount,
			Rows:         len(rec.Time),
		})
	}

	return out, nil
}

// Serve starts the API on addr in the background.
func Serve(addr string, src Source, dataFolder string) *http.Server {
	log := logger.For(logger.ComponentStatus)

	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src, dataFolder, log.Desugar()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("status API listening on %s", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, log)
		}
	}()

	return server
}

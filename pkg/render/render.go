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

// Package render draws the live view of a session.
package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/united-manufacturing-hub/daq-core/pkg/ringbuffer"
)

// Channel is the recent history of one signal.
type Channel struct {
	Name   string
	Points []ringbuffer.Point
}

// View is everything drawn in one redraw.
type View struct {
	Title    string
	Channels []Channel
}

// Renderer draws views.
type Renderer interface {
	Render(v View) error
}

// PNG renders each view into an image file. The file is replaced
// atomically so that a viewer never reads a partial image.
type PNG struct {
	Path   string
	Width  vg.Length
	Height vg.Length
}

// NewPNG returns a renderer writing a 10x4 inch image to path.
func NewPNG(path string) *PNG {
	return &PNG{Path: path, Width: 10 * vg.Inch, Height: 4 * vg.Inch}
}

// Render implements Renderer.
func (r *PNG) Render(v View) error {
	if len(v.Channels) == 0 {
		return errors.New("nothing to render")
	}

	p := plot.New()
	p.Title.Text = v.Title
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	lines := make([]interface{}, 0, 2*len(v.Channels))

	for _, ch := range v.Channels {
		xys := make(plotter.XYs, len(ch.Points))
		for i, pt := range ch.Points {
			xys[i].X = pt.T
			xys[i].Y = pt.V
		}

		lines = append(lines, ch.Name, xys)
	}

	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("build plot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return err
	}

	tmp := r.Path + ".tmp" + filepath.Ext(r.Path)
	if err := p.Save(r.Width, r.Height, tmp); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}

	return os.Rename(tmp, r.Path)
}

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

package workers_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
	"github.com/united-manufacturing-hub/daq-core/pkg/render"
	"github.com/united-manufacturing-hub/daq-core/pkg/serial"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
	"github.com/united-manufacturing-hub/daq-core/pkg/utilization"
	"github.com/united-manufacturing-hub/daq-core/pkg/workers"
)

type fixedSource struct {
	samples []bus.Sample
}

func (f *fixedSource) Next(context.Context) ([]bus.Sample, error) {
	out := f.samples
	f.samples = nil

	return out, nil
}

type recordingRenderer struct {
	mu    sync.Mutex
	views []render.View
}

func (r *recordingRenderer) Render(v render.View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.views = append(r.views, v)

	return nil
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.views)
}

type fakeUtilization struct{}

func (fakeUtilization) Read(context.Context) (utilization.Reading, error) {
	return utilization.Reading{CPUPercent: 12.5, MemoryPercent: 40}, nil
}

var _ = Describe("Sources", func() {
	Describe("FrameSource", func() {
		var (
			port *serial.LoopbackPort
			src  *workers.FrameSource
		)

		BeforeEach(func() {
			port = serial.NewLoopbackPort(nil)
			ch, err := serial.NewChannel(port, "loop", 20*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			src = workers.NewFrameSource(ch, frame.DefaultLayout)
		})

		It("turns a frame into index and channel values", func() {
			port.Feed(frame.DefaultLayout.Encode(frame.Sample{Timestamp: 1, Index: 3, Values: []int64{256, 512}}))

			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(Equal([]bus.Sample{{Timestamp: 1, Values: []float64{3, 256, 512}}}))
			Expect(src.Channels()).To(Equal(3))
		})

		It("drops a malformed frame without failing", func() {
			buf := frame.DefaultLayout.Encode(frame.Sample{Index: 1, Values: []int64{1, 2}})
			buf[len(buf)-1] = 0xAA
			port.Feed(buf)

			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(BeEmpty())
		})

		It("keeps the bytes of an incomplete read for the next call", func() {
			buf := frame.DefaultLayout.Encode(frame.Sample{Timestamp: 1, Index: 4, Values: []int64{7, 8}})
			port.Feed(buf[:6])

			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(BeEmpty())

			port.Feed(buf[6:])
			samples, err = src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(Equal([]bus.Sample{{Timestamp: 1, Values: []float64{4, 7, 8}}}))
		})

		It("realigns on the next header after losing part of a frame", func() {
			lost := frame.DefaultLayout.Encode(frame.Sample{Timestamp: 1, Index: 0, Values: []int64{1, 2}})
			port.Feed(lost[len(lost)-5:])

			for i := 1; i <= 3; i++ {
				port.Feed(frame.DefaultLayout.Encode(frame.Sample{Timestamp: 1, Index: i, Values: []int64{1, 2}}))
			}

			var indices []float64
			for i := 0; i < 6; i++ {
				samples, err := src.Next(context.Background())
				Expect(err).NotTo(HaveOccurred())

				for _, s := range samples {
					indices = append(indices, s.Values[0])
				}
			}

			Expect(indices).To(Equal([]float64{1, 2, 3}))
		})

		It("succeeds with nothing when the read times out", func() {
			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(BeEmpty())
		})
	})

	Describe("SineSource", func() {
		It("shifts channels by pi over the channel count and advances the phase", func() {
			src := workers.NewSineSource(2)

			first := src.Values()
			Expect(first[0]).To(BeZero())
			Expect(first[1]).To(Equal(int64(math.MaxInt16)))

			second := src.Values()
			Expect(second[0]).To(Equal(int64(math.MaxInt16 * math.Sin(workers.SinePhaseStep))))
		})

		It("stamps samples with the time since the first call", func() {
			src := workers.NewSineSource(3)

			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(1))
			Expect(samples[0].Values).To(HaveLen(3))
			Expect(samples[0].Timestamp).To(BeNumerically("~", 0, 0.01))
		})
	})

	It("counts up", func() {
		src := &workers.CounterSource{}

		for i := range 3 {
			samples, err := src.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(samples[0].Values).To(Equal([]float64{float64(i)}))
		}
	})

	It("reports utilization in channel order", func() {
		samples, err := workers.NewUtilizationSource(fakeUtilization{}).Next(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(samples[0].Values).To(Equal([]float64{12.5, 40}))
	})
})

var _ = Describe("Recorder", func() {
	var (
		ctx    context.Context
		b      *bus.Memory
		st     *store.MemoryStore
		outlet bus.Outlet
	)

	BeforeEach(func() {
		ctx = context.Background()
		b = bus.NewMemory()
		st = store.NewMemoryStore()

		var err error
		outlet, err = b.Outlet(ctx, bus.NewStreamInfo("data", "daq", 3, 1000, "float64"))
		Expect(err).NotTo(HaveOccurred())

		DeferCleanup(func() { _ = b.Close() })
	})

	It("stores selected columns with time relative to the first sample", func() {
		rec, err := workers.NewRecorder(ctx, b, st, "data", workers.RecorderConfig{Columns: []int{1, 2}, PullTimeout: 20 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())

		Expect(outlet.Push(ctx,
			bus.Sample{Timestamp: 10.5, Values: []float64{0, 1, 2}},
			bus.Sample{Timestamp: 10.75, Values: []float64{1, 3, 4}},
		)).To(Succeed())

		Eventually(func() int {
			Expect(rec.Step(ctx)).To(Succeed())

			return rec.Rows()
		}).Should(Equal(2))

		table := st.Tables()[0]
		Expect(table.Flushes()).To(BeNumerically(">=", 1))

		recording := table.Recording()
		Expect(recording.ChannelCount).To(Equal(2))
		Expect(recording.SamplingRate).To(Equal(1000.0))
		Expect(recording.Time).To(Equal([]float64{0, 0.25}))
		Expect(recording.Data).To(Equal([][]float64{{1, 2}, {3, 4}}))

		Expect(rec.Close()).To(Succeed())
	})

	It("treats an empty stream as a successful step", func() {
		rec, err := workers.NewRecorder(ctx, b, st, "data", workers.RecorderConfig{PullTimeout: 10 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.Step(ctx)).To(Succeed())
		Expect(rec.Rows()).To(BeZero())
	})

	It("rejects columns outside the stream", func() {
		_, err := workers.NewRecorder(ctx, b, st, "data", workers.RecorderConfig{Columns: []int{3}})
		Expect(err).To(HaveOccurred())
		Expect(st.Tables()).To(BeEmpty())
	})

	It("fails for an unknown stream", func() {
		_, err := workers.NewRecorder(ctx, b, st, "missing", workers.RecorderConfig{})
		Expect(errors.Is(err, bus.ErrStreamNotFound)).To(BeTrue())
	})
})

var _ = Describe("Plotter", func() {
	It("keeps the window per channel and redraws", func() {
		ctx := context.Background()
		b := bus.NewMemory()
		DeferCleanup(func() { _ = b.Close() })

		outlet, err := b.Outlet(ctx, bus.NewStreamInfo("data", "daq", 3, 10, "float64"))
		Expect(err).NotTo(HaveOccurred())

		r := &recordingRenderer{}
		p, err := workers.NewPlotter(ctx, b, "data", r, workers.PlotterConfig{
			Columns:  []int{1, 2},
			Window:   time.Second,
			Interval: 10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		for i := range 15 {
			Expect(outlet.Push(ctx, bus.Sample{Timestamp: float64(i) / 10, Values: []float64{float64(i), float64(i), -float64(i)}})).To(Succeed())
		}

		Expect(p.Step(ctx)).To(Succeed())
		Expect(r.count()).To(Equal(1))

		view := p.View()
		Expect(view.Title).To(Equal("data"))
		Expect(view.Channels).To(HaveLen(2))
		Expect(view.Channels[0].Points).To(HaveLen(10))
		Expect(view.Channels[0].Points[9].V).To(Equal(14.0))
		Expect(view.Channels[1].Points[0].V).To(Equal(-5.0))

		Expect(p.Close()).To(Succeed())
	})
})

var _ = Describe("Publisher", func() {
	It("pushes what the source yields", func() {
		ctx := context.Background()
		b := bus.NewMemory()
		DeferCleanup(func() { _ = b.Close() })

		outlet, err := b.Outlet(ctx, bus.NewStreamInfo("x", "test", 1, 0, "float64"))
		Expect(err).NotTo(HaveOccurred())

		inlet, err := b.Inlet(ctx, "x")
		Expect(err).NotTo(HaveOccurred())

		pub := workers.NewPublisher(&fixedSource{samples: []bus.Sample{{Timestamp: 1, Values: []float64{7}}}}, outlet, 0)
		Expect(pub.Step(ctx)).To(Succeed())
		Expect(pub.Step(ctx)).To(Succeed())

		got, err := inlet.Pull(ctx, 10, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]bus.Sample{{Timestamp: 1, Values: []float64{7}}}))

		Expect(pub.Close()).To(Succeed())
	})

	It("paces steps to the interval", func() {
		ctx := context.Background()
		b := bus.NewMemory()
		DeferCleanup(func() { _ = b.Close() })

		outlet, err := b.Outlet(ctx, bus.NewStreamInfo("c", "test", 1, 0, "float64"))
		Expect(err).NotTo(HaveOccurred())

		pub := workers.NewPublisher(&workers.CounterSource{}, outlet, 20*time.Millisecond)

		began := time.Now()
		for range 4 {
			Expect(pub.Step(ctx)).To(Succeed())
		}

		Expect(time.Since(began)).To(BeNumerically(">=", 60*time.Millisecond))
	})

	It("stops waiting when the context is cancelled", func() {
		b := bus.NewMemory()
		DeferCleanup(func() { _ = b.Close() })

		outlet, err := b.Outlet(context.Background(), bus.NewStreamInfo("c", "test", 1, 0, "float64"))
		Expect(err).NotTo(HaveOccurred())

		pub := workers.NewPublisher(&workers.CounterSource{}, outlet, time.Hour)
		Expect(pub.Step(context.Background())).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(pub.Step(ctx)).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Pipeline", func() {
	var (
		ctx context.Context
		b   *bus.Memory
		st  *store.MemoryStore
		sup *supervisor.Supervisor
	)

	BeforeEach(func() {
		ctx = context.Background()
		b = bus.NewMemory()
		st = store.NewMemoryStore()
		sup = supervisor.New(
			supervisor.WithWatchdogInterval(200*time.Millisecond),
			supervisor.WithSettleDelay(30*time.Millisecond),
			supervisor.WithJoinTimeout(500*time.Millisecond),
			supervisor.WithPollInterval(10*time.Millisecond),
			supervisor.WithLogger(zap.NewNop().Sugar()),
		)

		DeferCleanup(func() {
			_ = sup.Stop()
			_ = b.Close()
		})
	})

	It("registers publishers, recorders and the plotter", func() {
		p := workers.Pipeline{
			Bus:              b,
			Store:            st,
			Data:             workers.NewSineSource(2),
			DataInfo:         bus.NewStreamInfo(workers.DataStream, "daq", 2, 100, "float64"),
			TrackUtilization: true,
			Utilization:      fakeUtilization{},
			Plot:             &recordingRenderer{},
		}

		Expect(p.Register(ctx, sup)).To(Succeed())
		Expect(sup.Tasks()).To(Equal([]string{
			"publisher:data", "recorder:data",
			"publisher:util", "recorder:util",
			"plotter:data",
			supervisor.WatchdogName,
		}))
	})

	It("records a paced counter for one second", func() {
		p := workers.Pipeline{
			Bus:          b,
			Store:        st,
			Data:         &workers.CounterSource{},
			DataInfo:     bus.NewStreamInfo("counter", "test", 1, 10, "float64"),
			DataInterval: 100 * time.Millisecond,
			PullTimeout:  20 * time.Millisecond,
		}

		Expect(p.Register(ctx, sup)).To(Succeed())
		Expect(sup.Start(ctx)).To(Succeed())
		Expect(sup.WaitSeconds(ctx, 970*time.Millisecond)).To(Succeed())
		Expect(sup.Stop()).To(Succeed())

		tables := st.Tables()
		Expect(tables).To(HaveLen(1))

		recording := tables[0].Recording()
		Expect(len(recording.Time)).To(BeNumerically("~", 10, 2))
		Expect(recording.Time[0]).To(BeZero())
		Expect(recording.Data[0]).To(Equal([]float64{0}))
	})

	It("closes what it created when a stream cannot be opened", func() {
		_, err := b.Outlet(ctx, bus.NewStreamInfo(workers.DataStream, "taken", 1, 0, "float64"))
		Expect(err).NotTo(HaveOccurred())

		p := workers.Pipeline{
			Bus:      b,
			Store:    st,
			Data:     &workers.CounterSource{},
			DataInfo: bus.NewStreamInfo(workers.DataStream, "daq", 1, 0, "float64"),
		}

		Expect(p.Register(ctx, sup)).To(MatchError(bus.ErrStreamExists))
		Expect(sup.Tasks()).To(BeEmpty())
	})
})

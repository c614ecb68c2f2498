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

package status_test

import (
	"net/http"
	"net/http/httptest"

	json "github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/status"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
)

type fakeSource struct {
	running bool
	status  supervisor.Status
}

func (f fakeSource) IsRunning() bool           { return f.running }
func (f fakeSource) Status() supervisor.Status { return f.status }

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

var _ = Describe("Status API", func() {
	It("reports health from the running flag", func() {
		Expect(get(status.NewRouter(fakeSource{running: true}, "", zap.NewNop()), "/health").Code).To(Equal(http.StatusOK))
		Expect(get(status.NewRouter(fakeSource{}, "", zap.NewNop()), "/health").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("serves the supervisor status as JSON", func() {
		src := fakeSource{status: supervisor.Status{
			State:         supervisor.StateRunning,
			Running:       true,
			Stalled:       []string{"recorder:data"},
			PendingFaults: 2,
			Tasks:         []supervisor.TaskStatus{{Name: "recorder:data", Alive: true}},
		}}

		rec := get(status.NewRouter(src, "", zap.NewNop()), "/status")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var got supervisor.Status
		Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
		Expect(got).To(Equal(src.status))
	})

	It("lists recordings when a data folder is set", func() {
		dir := GinkgoT().TempDir()
		table, err := store.NewFileStore(dir).Create(store.Attributes{Stream: "data", SamplingRate: 100, ChannelCount: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Append(0, []float64{1, 2})).To(Succeed())
		Expect(table.Close()).To(Succeed())

		rec := get(status.NewRouter(fakeSource{}, dir, zap.NewNop()), "/recordings")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var got []status.Recording
		Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Stream).To(Equal("data"))
		Expect(got[0].Rows).To(Equal(1))
	})

	It("does not route recordings without a data folder", func() {
		Expect(get(status.NewRouter(fakeSource{}, "", zap.NewNop()), "/recordings").Code).To(Equal(http.StatusNotFound))
	})
})

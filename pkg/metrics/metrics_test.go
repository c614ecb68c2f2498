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

package metrics

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Metrics", func() {
	It("maps supervisor states onto gauge values", func() {
		UpdateSessionState("running")
		Expect(testutil.ToFloat64(sessionState)).To(Equal(1.0))

		UpdateSessionState("stopped")
		Expect(testutil.ToFloat64(sessionState)).To(Equal(2.0))

		UpdateSessionState("bogus")
		Expect(testutil.ToFloat64(sessionState)).To(Equal(-1.0))
	})

	It("exports the health flag", func() {
		SetSessionHealthy(true)
		Expect(testutil.ToFloat64(sessionHealthy)).To(Equal(1.0))

		SetSessionHealthy(false)
		Expect(testutil.ToFloat64(sessionHealthy)).To(Equal(0.0))
	})

	It("counts per worker and per stream", func() {
		before := testutil.ToFloat64(workerFaults.WithLabelValues("metrics-test"))
		IncWorkerFault("metrics-test")
		Expect(testutil.ToFloat64(workerFaults.WithLabelValues("metrics-test"))).To(Equal(before + 1))

		AddRowsRecorded("metrics-test", 3)
		Expect(testutil.ToFloat64(rowsRecorded.WithLabelValues("metrics-test"))).To(Equal(3.0))
	})

	It("serves the metrics endpoint", func() {
		server := SetupMetricsEndpoint("127.0.0.1:0")
		defer server.Close()

		Expect(server.Handler).NotTo(BeNil())
		Expect(server.ReadTimeout).To(Equal(5 * time.Second))
	})
})

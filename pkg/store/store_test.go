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

package store_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/daq-core/pkg/store"
)

var _ = Describe("FileStore", func() {
	var (
		dir   string
		fs    *store.FileStore
		now   time.Time
		attrs store.Attributes
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		now = time.Date(2024, 3, 7, 14, 5, 0, 0, time.UTC)
		fs = store.NewFileStore(dir)
		fs.Now = func() time.Time { return now }
		attrs = store.Attributes{Stream: "data", Type: "EEG", SamplingRate: 1000, ChannelCount: 2, DataFormat: "int16"}
	})

	It("writes a recording that reads back identically", func() {
		table, err := fs.Create(attrs)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 100; i++ {
			Expect(table.Append(float64(i)*0.001, []float64{float64(i), float64(-i)})).To(Succeed())
		}

		Expect(table.Flush()).To(Succeed())
		Expect(table.Rows()).To(Equal(100))
		Expect(table.Close()).To(Succeed())

		path := filepath.Join(dir, "20240307_1405_data.daq")
		rec, err := store.ReadRecording(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Stream).To(Equal("data"))
		Expect(rec.SamplingRate).To(Equal(1000.0))
		Expect(rec.ChannelCount).To(Equal(2))
		Expect(rec.DataFormat).To(Equal("int16"))
		Expect(rec.CreationDate.Equal(now)).To(BeTrue())
		Expect(rec.Time).To(HaveLen(100))
		Expect(rec.Data[42]).To(Equal([]float64{42, -42}))
		Expect(rec.Time[99]).To(BeNumerically("~", 0.099, 1e-12))
	})

	It("keeps flushed rows readable before the table is closed", func() {
		table, err := fs.Create(attrs)
		Expect(err).NotTo(HaveOccurred())
		defer table.Close()

		Expect(table.Append(0.5, []float64{1, 2})).To(Succeed())
		Expect(table.Flush()).To(Succeed())

		files, err := store.List(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(1))

		rec, err := store.ReadRecording(files[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Time).To(Equal([]float64{0.5}))
	})

	It("never overwrites an existing recording", func() {
		first, err := fs.Create(attrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Close()).To(Succeed())

		second, err := fs.Create(attrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Close()).To(Succeed())

		files, err := store.List(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(ConsistOf(
			filepath.Join(dir, "20240307_1405_data.daq"),
			filepath.Join(dir, "20240307_1405_data_1.daq"),
		))
	})

	It("rejects rows of the wrong width and writes after close", func() {
		table, err := fs.Create(attrs)
		Expect(err).NotTo(HaveOccurred())

		Expect(table.Append(0, []float64{1})).To(HaveOccurred())
		Expect(table.Close()).To(Succeed())
		Expect(table.Append(0, []float64{1, 2})).To(MatchError(store.ErrClosed))
		Expect(table.Close()).To(Succeed())
	})

	It("refuses files that are not recordings", func() {
		path := filepath.Join(dir, "junk.daq")
		Expect(os.WriteFile(path, []byte("{\"version\":99}\n"), 0o644)).To(Succeed())

		_, err := store.ReadRecording(path)
		Expect(err).To(MatchError(ContainSubstring("unsupported format version")))
	})

	It("names files by minute and stream", func() {
		Expect(store.FileName("util", now)).To(Equal("20240307_1405_util.daq"))
	})
})

var _ = Describe("MemoryStore", func() {
	It("exposes only flushed rows", func() {
		ms := store.NewMemoryStore()
		table, err := ms.Create(store.Attributes{Stream: "util", ChannelCount: 2})
		Expect(err).NotTo(HaveOccurred())

		Expect(table.Append(1, []float64{10, 20})).To(Succeed())
		mt := ms.Tables()[0]
		Expect(mt.Recording().Time).To(BeEmpty())

		Expect(table.Flush()).To(Succeed())
		Expect(mt.Recording().Data).To(Equal([][]float64{{10, 20}}))
		Expect(mt.Flushes()).To(Equal(1))
	})
})

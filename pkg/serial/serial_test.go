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

package serial_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/daq-core/pkg/serial"
)

var _ = Describe("Channel", func() {
	var (
		port *serial.LoopbackPort
		ch   *serial.Channel
	)

	BeforeEach(func() {
		port = serial.NewLoopbackPort(func(req []byte) []byte {
			return append([]byte{0x00}, req...)
		})

		var err error
		ch, err = serial.NewChannel(port, "loop0", 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(ch.Close()).To(Succeed())
	})

	It("returns a short read when the timeout elapses", func() {
		port.Feed([]byte{1, 2, 3})

		began := time.Now()
		got, err := ch.Read(15)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte{1, 2, 3}))
		Expect(time.Since(began)).To(BeNumerically("<", time.Second))
	})

	It("returns nothing when no data arrives", func() {
		got, err := ch.Read(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("discards stale input before a query", func() {
		port.Feed([]byte{0xEE, 0xEE})

		resp, err := ch.Query([]byte{0x01, 0x00, 0x06}, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal([]byte{0x00, 0x01, 0x00, 0x06}))
		Expect(port.Written.Bytes()).To(Equal([]byte{0x01, 0x00, 0x06}))
	})

	It("reports short responses", func() {
		_, err := ch.Query([]byte{0x01}, 5)
		Expect(err).To(MatchError(ContainSubstring("short response")))
	})

	It("fails after the port was closed", func() {
		Expect(port.Close()).To(Succeed())
		_, err := ch.Read(1)
		Expect(err).To(HaveOccurred())
		Expect(ch.Write([]byte{1})).To(HaveOccurred())
	})
})

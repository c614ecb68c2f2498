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

package frame_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
)

var _ = Describe("Frame", func() {
	valid := []byte{
		0xA0, 0x03,
		0x40, 0x42, 0x0F, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x01, 0x00, 0x02,
		0xFF,
	}

	It("decodes a well-formed frame", func() {
		samples := frame.Decode(valid)
		Expect(samples).To(HaveLen(1))
		Expect(samples[0].Timestamp).To(BeNumerically("~", 1.0, 1e-9))
		Expect(samples[0].Index).To(Equal(3))
		Expect(samples[0].Values).To(Equal([]int64{256, 512}))
		Expect(samples[0].Row()).To(Equal([]int64{3, 256, 512}))
	})

	It("returns an empty result for a wrong trailer", func() {
		bad := append([]byte{}, valid...)
		bad[14] = 0xAA
		Expect(frame.Decode(bad)).To(BeEmpty())
		Expect(frame.DefaultLayout.Validate(bad)).To(MatchError(frame.ErrBadTrailer))
	})

	It("returns an empty result for a wrong header", func() {
		bad := append([]byte{}, valid...)
		bad[0] = 0x00
		Expect(frame.Decode(bad)).To(BeEmpty())
		Expect(frame.DefaultLayout.Validate(bad)).To(MatchError(frame.ErrBadHeader))
	})

	It("returns an empty result for empty and short input", func() {
		Expect(frame.Decode(nil)).To(BeEmpty())
		Expect(frame.Decode(valid[:10])).To(BeEmpty())
		Expect(frame.DefaultLayout.Validate(valid[:10])).To(MatchError(frame.ErrShortFrame))
	})

	DescribeTable("round-trips through Encode",
		func(channels int, s frame.Sample) {
			layout := frame.Layout{Channels: channels}
			buf := layout.Encode(s)
			Expect(buf).To(HaveLen(layout.Width()))

			out := layout.Decode(buf)
			Expect(out).To(HaveLen(1))
			Expect(out[0].Index).To(Equal(s.Index))
			Expect(out[0].Timestamp).To(BeNumerically("~", s.Timestamp, 1e-6))
			Expect(out[0].Values).To(Equal(s.Values))
		},
		Entry("default layout", 2, frame.Sample{Timestamp: 12.345678, Index: 255, Values: []int64{0, 65535}}),
		Entry("four channels", 4, frame.Sample{Timestamp: 0, Index: 0, Values: []int64{1, 2, 3, 4}}),
		Entry("large timestamp", 2, frame.Sample{Timestamp: 86400.5, Index: 17, Values: []int64{100, 200}}),
	)

	Describe("DecodeBatch", func() {
		It("skips malformed frames and a trailing partial frame", func() {
			layout := frame.DefaultLayout
			var buf []byte
			buf = append(buf, layout.Encode(frame.Sample{Timestamp: 1, Index: 1, Values: []int64{1, 1}})...)

			broken := layout.Encode(frame.Sample{Timestamp: 2, Index: 2, Values: []int64{2, 2}})
			broken[14] = 0x00
			buf = append(buf, broken...)

			buf = append(buf, layout.Encode(frame.Sample{Timestamp: 3, Index: 3, Values: []int64{3, 3}})...)
			buf = append(buf, 0xA0, 0x04)

			samples := frame.DecodeBatch(buf)
			Expect(samples).To(HaveLen(2))
			Expect(samples[0].Index).To(Equal(1))
			Expect(samples[1].Index).To(Equal(3))
		})

		It("returns nothing for an empty buffer", func() {
			Expect(frame.DecodeBatch(nil)).To(BeEmpty())
		})
	})

	DescribeTable("Resync keeps the bytes from the next header on",
		func(in, want []byte) {
			Expect(frame.Resync(in)).To(Equal(want))
		},
		Entry("next header inside the buffer", []byte{0xA0, 0x01, 0xFF, 0xA0, 0x02}, []byte{0xA0, 0x02}),
		Entry("garbage before a header", []byte{0x01, 0x02, 0xA0, 0x03}, []byte{0xA0, 0x03}),
		Entry("no further header", []byte{0xA0, 0x01, 0x02}, []byte{}),
		Entry("single byte", []byte{0xA0}, []byte{}),
	)
})

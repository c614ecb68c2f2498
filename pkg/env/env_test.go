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

package env_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/daq-core/pkg/env"
)

var _ = Describe("Env", func() {
	const key = "DAQ_ENV_TEST"

	AfterEach(func() {
		Expect(os.Unsetenv(key)).To(Succeed())
	})

	It("returns defaults for unset variables", func() {
		Expect(env.String(key, "x")).To(Equal("x"))
		Expect(env.Int(key, 7)).To(Equal(7))
		Expect(env.Bool(key, true)).To(BeTrue())
	})

	It("parses set variables", func() {
		GinkgoT().Setenv(key, "250ms")
		Expect(env.Duration(key, time.Second)).To(Equal(250 * time.Millisecond))

		GinkgoT().Setenv(key, " 42 ")
		Expect(env.Int(key, 0)).To(Equal(42))

		GinkgoT().Setenv(key, "off")
		Expect(env.Bool(key, true)).To(BeFalse())

		GinkgoT().Setenv(key, "2.5")
		Expect(env.Float(key, 0)).To(Equal(2.5))
	})

	It("rejects unparsable values", func() {
		GinkgoT().Setenv(key, "fast")
		v, err := env.Int(key, 3)
		Expect(err).To(MatchError(ContainSubstring(key)))
		Expect(v).To(Equal(3))

		_, err = env.Bool(key, false)
		Expect(err).To(HaveOccurred())
	})
})

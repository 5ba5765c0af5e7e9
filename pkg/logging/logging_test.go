// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/discourse/ddns-sd/pkg/logging"
)

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "logging Suite")
}

var _ = Describe("ParseLevel", func() {
	It("accepts the four documented levels", func() {
		for _, s := range []string{"ERROR", "WARN", "INFO", "DEBUG"} {
			_, err := logging.ParseLevel(s)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("rejects anything else", func() {
		_, err := logging.ParseLevel("TRACE")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Logger level adjustment", func() {
	It("does not panic when raised past DEBUG", func() {
		l := logging.New(logging.LevelInfo)
		Expect(func() {
			for i := 0; i < 4; i++ {
				l.Raise()
			}
			l.Info("still usable past the bound")
		}).NotTo(Panic())
	})

	It("does not panic when lowered past ERROR", func() {
		l := logging.New(logging.LevelInfo)
		Expect(func() {
			for i := 0; i < 4; i++ {
				l.Lower()
			}
			l.Info("still usable past the bound")
		}).NotTo(Panic())
	})
})

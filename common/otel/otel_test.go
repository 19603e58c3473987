package otel

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/ghsync/core/config"
)

var _ = Describe("parseHeaders", func() {
	It("splits comma separated pairs", func() {
		Expect(parseHeaders("authorization=Bearer abc, x-team = sync")).To(Equal(map[string]string{
			"authorization": "Bearer abc",
			"x-team":        "sync",
		}))
	})

	It("keeps '=' inside values", func() {
		Expect(parseHeaders("x-sig=a=b")).To(HaveKeyWithValue("x-sig", "a=b"))
	})

	It("ignores malformed pairs", func() {
		Expect(parseHeaders("novalue,")).To(BeEmpty())
		Expect(parseHeaders("")).To(BeEmpty())
	})
})

var _ = Describe("sampler", func() {
	DescribeTable("honours the parent and samples roots by ratio",
		func(ratio float64, root string) {
			desc := sampler(ratio).Description()
			Expect(desc).To(HavePrefix("ParentBased{root:" + root))
		},
		Entry("everything", 1.0, "AlwaysOnSampler"),
		Entry("above one", 2.0, "AlwaysOnSampler"),
		Entry("nothing", 0.0, "AlwaysOffSampler"),
		Entry("a quarter", 0.25, "TraceIDRatioBased{0.25}"),
	)
})

var _ = Describe("Setup", func() {
	It("is a no-op without an endpoint", func() {
		tel, err := Setup(context.Background(), config.OTelConfig{ServiceName: "ghsync-worker"})
		Expect(err).NotTo(HaveOccurred())
		Expect(tel).To(BeNil())
	})
})

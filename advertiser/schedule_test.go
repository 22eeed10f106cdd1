package advertiser_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sereno-systems/mdnsd/advertiser"
)

var _ = Describe("Prober schedule", func() {
	It("sends exactly three probes spaced 250ms apart", func() {
		p := &advertiser.Prober{}
		Expect(p.NumSends()).To(Equal(3))
		Expect(p.DelayBefore(2)).To(Equal(250 * time.Millisecond))
		Expect(p.DelayBefore(3)).To(Equal(250 * time.Millisecond))
	})

	It("jitters the first probe in [0, 250ms)", func() {
		p := &advertiser.Prober{Random: constantRandom{n: int(100 * time.Millisecond)}}
		Expect(p.DelayBefore(1)).To(Equal(100 * time.Millisecond))
	})
})

var _ = Describe("Announcer schedule", func() {
	It("doubles its interval across eight sends", func() {
		a := &advertiser.Announcer{}
		Expect(a.NumSends()).To(Equal(8))

		want := []time.Duration{1, 2, 4, 8, 16, 32, 64, 128}
		for i, w := range want {
			Expect(a.DelayBefore(i + 1)).To(Equal(w * time.Second))
		}
	})
})

type constantRandom struct{ n int }

func (r constantRandom) Intn(n int) int { return r.n }
func (r constantRandom) Uint32() uint32 { return uint32(r.n) }

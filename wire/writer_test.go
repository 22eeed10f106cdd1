package wire_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sereno-systems/mdnsd/wire"
)

var _ = Describe("Writer", func() {
	Describe("WriteName", func() {
		It("compresses a name against a previously-written suffix", func() {
			buf := make([]byte, 128)
			w := wire.NewWriter(buf)

			Expect(w.WriteName(wire.MustParseName("printer.local"))).To(Succeed())
			before := w.Len()

			Expect(w.WriteName(wire.MustParseName("other.local"))).To(Succeed())
			after := w.Len()

			// "other" is written literally (6 bytes incl. length) plus a
			// 2-byte pointer to the "local" suffix recorded by the first
			// WriteName call, rather than another full label sequence.
			Expect(after - before).To(Equal(1 + len("other") + 2))
		})

		It("emits a pointer for a name that fully repeats an earlier one", func() {
			buf := make([]byte, 128)
			w := wire.NewWriter(buf)

			Expect(w.WriteName(wire.MustParseName("printer.local"))).To(Succeed())
			before := w.Len()
			Expect(w.WriteName(wire.MustParseName("printer.local"))).To(Succeed())
			Expect(w.Len() - before).To(Equal(2))
		})
	})

	Describe("buffer exhaustion", func() {
		It("fails with ErrBufferFull without partial side effects on overflow", func() {
			buf := make([]byte, 4)
			w := wire.NewWriter(buf)

			err := w.WriteName(wire.MustParseName("printer.local"))
			Expect(err).To(Equal(wire.ErrBufferFull))
			Expect(w.Len()).To(Equal(0))
		})
	})

	Describe("Rewind/Unrewind", func() {
		It("patches the reserved length field with the bytes written since", func() {
			buf := make([]byte, 64)
			w := wire.NewWriter(buf)

			mark, err := w.Rewind()
			Expect(err).NotTo(HaveOccurred())

			Expect(w.WriteBytes([]byte{1, 2, 3, 4, 5})).To(Succeed())
			Expect(w.Unrewind(mark)).To(Succeed())

			Expect(w.Bytes()[mark]).To(Equal(byte(0)))
			Expect(w.Bytes()[mark+1]).To(Equal(byte(5)))
		})

		It("rejects a second nested rewind", func() {
			buf := make([]byte, 64)
			w := wire.NewWriter(buf)

			_, err := w.Rewind()
			Expect(err).NotTo(HaveOccurred())

			_, err = w.Rewind()
			Expect(err).To(Equal(wire.ErrInvalidRewind))
		})

		It("rejects unrewinding a mark that doesn't match", func() {
			buf := make([]byte, 64)
			w := wire.NewWriter(buf)

			_, err := w.Rewind()
			Expect(err).NotTo(HaveOccurred())

			err = w.Unrewind(999)
			Expect(err).To(Equal(wire.ErrInvalidRewind))
		})
	})
})

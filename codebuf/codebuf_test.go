//go:build unix

package codebuf_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/arm7rec/codebuf"
)

var _ = Describe("Buffer", func() {
	var buf *codebuf.Buffer

	BeforeEach(func() {
		var err error
		buf, err = codebuf.New(4096)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(buf.Close()).To(Succeed())
	})

	It("should start executable and empty", func() {
		Expect(buf.Writable()).To(BeFalse())
		Expect(buf.Used()).To(BeZero())
		Expect(buf.Cap()).To(BeNumerically(">=", 4096))
	})

	It("should refuse writes outside a writable bracket", func() {
		_, err := buf.Append([]byte{0x90}, 1)
		Expect(errors.Is(err, codebuf.ErrWriteProtected)).To(BeTrue())
	})

	It("should append aligned code", func() {
		Expect(buf.MakeWritable()).To(Succeed())

		off1, err := buf.Append([]byte{1, 2, 3}, 16)
		Expect(err).NotTo(HaveOccurred())
		off2, err := buf.Append([]byte{4}, 16)
		Expect(err).NotTo(HaveOccurred())

		Expect(buf.MakeExecutable()).To(Succeed())
		Expect(off1).To(Equal(0))
		Expect(off2).To(Equal(16))
		Expect(buf.Used()).To(Equal(17))
		Expect(buf.Bytes(off2, 1)).To(Equal([]byte{4}))
		Expect(buf.Addr(off2) - buf.Addr(0)).To(Equal(uintptr(16)))
	})

	It("should report a full buffer", func() {
		Expect(buf.MakeWritable()).To(Succeed())
		defer func() { Expect(buf.MakeExecutable()).To(Succeed()) }()

		_, err := buf.Append(make([]byte, buf.Cap()+1), 1)
		Expect(errors.Is(err, codebuf.ErrFull)).To(BeTrue())
		Expect(buf.Used()).To(BeZero())
	})

	It("should drop code after a truncation point", func() {
		Expect(buf.MakeWritable()).To(Succeed())
		_, _ = buf.Append(make([]byte, 64), 1)
		buf.Truncate(8)
		Expect(buf.MakeExecutable()).To(Succeed())

		Expect(buf.Used()).To(Equal(8))
	})
})

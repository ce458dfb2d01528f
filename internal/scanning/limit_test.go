package scanning

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LimitedDetector", func() {
	var (
		next    *fakeDetector
		limited *LimitedDetector
	)

	BeforeEach(func() {
		next = newFakeDetector("ACME")
		limited = NewLimitedDetector(next, 1)
	})

	It("should delegate to the wrapped detector", func() {
		result, err := limited.DetectText(context.Background(), []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.FullText).To(Equal("ACME"))
		Expect(next.Calls()).To(Equal(1))
	})

	When("every slot is taken", func() {
		BeforeEach(func() {
			next.block = make(chan struct{})
			next.started = make(chan struct{}, 1)
		})

		It("should make further callers wait until their context expires", func() {
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := limited.DetectText(context.Background(), []byte("first"))
				done <- err
			}()
			Eventually(next.started).Should(Receive())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := limited.DetectText(ctx, []byte("second"))
			Expect(err).To(MatchError(ErrOCRService))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(next.Calls()).To(Equal(1))

			close(next.block)
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	It("should treat a non-positive limit as one", func() {
		Expect(NewLimitedDetector(next, 0)).NotTo(BeNil())
	})

	It("should close the wrapped detector", func() {
		Expect(limited.Close()).To(Succeed())
		Expect(next.closed).To(BeTrue())
	})
})

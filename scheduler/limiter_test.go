package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cellgrid/scheduler"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Limiter", func() {

	It("never runs more than K callers under a burst", func() {
		const k = 3
		lim := scheduler.New("cells", k)

		var current, maxSeen atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				err := lim.Submit(context.Background(), func(context.Context) error {
					n := current.Add(1)
					for {
						m := maxSeen.Load()
						if n <= m || maxSeen.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					current.Add(-1)
					return nil
				})
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(maxSeen.Load()).To(BeNumerically("<=", k))
		Expect(lim.Peak()).To(BeNumerically("<=", k))
		Expect(lim.InFlight()).To(BeZero())
		Expect(lim.Waiting()).To(BeZero())
	})

	It("admits waiters in arrival order", func() {
		lim := scheduler.New("cells", 1)
		hold := make(chan struct{})
		holding := make(chan struct{})

		go func() {
			defer GinkgoRecover()
			_ = lim.Submit(context.Background(), func(context.Context) error {
				close(holding)
				<-hold
				return nil
			})
		}()
		Eventually(holding).Should(BeClosed())

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				_ = lim.Submit(context.Background(), func(context.Context) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				})
			}(i)
			Eventually(lim.Waiting).Should(Equal(i + 1))
		}

		close(hold)
		wg.Wait()
		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("returns the callback's error", func() {
		lim := scheduler.New("cells", 2)
		boom := errors.New("boom")
		Expect(lim.Submit(context.Background(), func(context.Context) error { return boom })).To(MatchError(boom))
		Expect(lim.InFlight()).To(BeZero())
	})

	It("releases the slot when the callback panics", func() {
		lim := scheduler.New("cells", 1)
		Expect(func() {
			_ = lim.Submit(context.Background(), func(context.Context) error { panic("bad") })
		}).To(Panic())
		Expect(lim.InFlight()).To(BeZero())

		ran := false
		Expect(lim.Submit(context.Background(), func(context.Context) error { ran = true; return nil })).To(Succeed())
		Expect(ran).To(BeTrue())
	})

	It("times out a caller whose deadline passes while queued", func() {
		lim := scheduler.New("cells", 1)
		hold := make(chan struct{})
		defer close(hold)
		go func() {
			_ = lim.Submit(context.Background(), func(context.Context) error { <-hold; return nil })
		}()
		Eventually(lim.InFlight).Should(Equal(1))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := lim.Submit(ctx, func(context.Context) error { return nil })
		Expect(err).To(MatchError(scheduler.ErrLimiterTimeout))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(lim.Waiting()).To(BeZero())
	})

	It("applies a configured queue timeout", func() {
		lim := scheduler.New("sections", 1, scheduler.WithQueueTimeout(10*time.Millisecond))
		hold := make(chan struct{})
		defer close(hold)
		go func() {
			_ = lim.Submit(context.Background(), func(context.Context) error { <-hold; return nil })
		}()
		Eventually(lim.InFlight).Should(Equal(1))

		Expect(lim.Submit(context.Background(), func(context.Context) error { return nil })).
			To(MatchError(scheduler.ErrLimiterTimeout))
	})

	It("returns cancellation without wrapping it as a timeout", func() {
		lim := scheduler.New("cells", 1)
		hold := make(chan struct{})
		defer close(hold)
		go func() {
			_ = lim.Submit(context.Background(), func(context.Context) error { <-hold; return nil })
		}()
		Eventually(lim.InFlight).Should(Equal(1))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := lim.Submit(ctx, func(context.Context) error { return nil })
		Expect(err).To(MatchError(context.Canceled))
		Expect(errors.Is(err, scheduler.ErrLimiterTimeout)).To(BeFalse())
	})

	It("returns values from Do", func() {
		lim := scheduler.New("cells", 2)
		v, err := scheduler.Do(context.Background(), lim, func(context.Context) (string, error) { return "ok", nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("ok"))
	})

	It("raises a zero width to one", func() {
		Expect(scheduler.New("x", 0).Capacity()).To(Equal(1))
	})
})

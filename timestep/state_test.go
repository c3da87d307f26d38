package timestep

import (
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func mustBegin(s State, budget float64) State {
	next, err := BeginCycle(s, budget, s.Now()+budget)
	Expect(err).NotTo(HaveOccurred())

	return next
}

func mustAdvance(s State, dt float64) (State, float64) {
	next, taken, err := Advance(s, dt)
	Expect(err).NotTo(HaveOccurred())

	return next, taken
}

var _ = Describe("State", func() {
	It("should start catching up", func() {
		s := Initial()

		Expect(s.Catchup).To(BeTrue())
		Expect(s.Phase()).To(Equal("CATCHUP"))
	})

	It("should reset the cycle on negotiation", func() {
		s := mustBegin(Initial(), 1.0)

		Expect(s.Catchup).To(BeFalse())
		Expect(s.Elapsed).To(Equal(0.0))
		Expect(s.Budget).To(Equal(1.0))
		Expect(s.Cycle).To(Equal(1))
		Expect(s.Phase()).To(Equal("RUNNING"))
	})

	It("should clip the seventh step of 0.15 to land on 1.0", func() {
		s := mustBegin(Initial(), 1.0)

		var taken []float64
		for !s.Catchup {
			var dt float64
			s, dt = mustAdvance(s, 0.15)
			taken = append(taken, dt)
		}

		Expect(taken).To(HaveLen(7))
		for _, dt := range taken[:6] {
			Expect(dt).To(Equal(0.15))
		}
		Expect(taken[6]).To(BeNumerically("~", 0.10, 1e-12))
		Expect(s.Elapsed).To(Equal(1.0))
	})

	It("should repeat the same sequence in the next cycle", func() {
		s := Initial()

		var cycles [2][]float64
		for c := 0; c < 2; c++ {
			s = mustBegin(s, 1.0)
			for !s.Catchup {
				var dt float64
				s, dt = mustAdvance(s, 0.15)
				cycles[c] = append(cycles[c], dt)
			}
		}

		Expect(cycles[1]).To(Equal(cycles[0]))
		Expect(s.Cycle).To(Equal(2))
		Expect(s.Now()).To(Equal(2.0))
	})

	It("should cover a cycle in one step when dt exceeds the budget", func() {
		s := mustBegin(Initial(), 0.4)

		s, dt := mustAdvance(s, 3.0)

		Expect(dt).To(Equal(0.4))
		Expect(s.Catchup).To(BeTrue())
	})

	It("should flip exactly when the budget is hit", func() {
		s := mustBegin(Initial(), 0.5)

		s, dt := mustAdvance(s, 0.25)
		Expect(dt).To(Equal(0.25))
		Expect(s.Catchup).To(BeFalse())

		s, dt = mustAdvance(s, 0.25)
		Expect(dt).To(Equal(0.25))
		Expect(s.Catchup).To(BeTrue())
	})

	It("should take ten steps of 0.1 in a budget of 1.0", func() {
		s := mustBegin(Initial(), 1.0)

		var taken []float64
		for !s.Catchup {
			var dt float64
			s, dt = mustAdvance(s, 0.1)
			taken = append(taken, dt)
		}

		Expect(taken).To(HaveLen(10))
		Expect(taken[9]).To(BeNumerically("~", 0.1, 1e-12))
		Expect(s.Elapsed).To(Equal(1.0))
		Expect(s.Remaining()).To(Equal(0.0))
	})

	It("should close the cycle when rounding leaves a sliver of budget", func() {
		s := mustBegin(Initial(), 3.0)
		s, _ = mustAdvance(s, 3.0-1e-12)

		Expect(s.Catchup).To(BeTrue())
		Expect(s.Elapsed).To(Equal(3.0))
	})

	It("should land exactly and never overshoot for random steps", func() {
		rng := rand.New(rand.NewSource(42))

		for trial := 0; trial < 200; trial++ {
			budget := 0.01 + rng.Float64()*10
			s := mustBegin(Initial(), budget)

			sum := 0.0
			for !s.Catchup {
				proposed := rng.Float64() * budget / 3
				var dt float64
				s, dt = mustAdvance(s, proposed)

				Expect(dt).To(BeNumerically("<=",
					proposed+LandingTolerance*math.Max(1, budget)))
				Expect(s.Elapsed).To(BeNumerically("<=", s.Budget))
				sum += dt
			}

			Expect(s.Elapsed).To(Equal(budget))
			Expect(sum).To(BeNumerically("~", budget, budget*1e-12))
		}
	})

	It("should keep elapsed time non-decreasing while running", func() {
		s := mustBegin(Initial(), 1.0)

		prev := s.Elapsed
		for _, dt := range []float64{0.1, 0, 0.3, 0, 0.2} {
			s, _ = mustAdvance(s, dt)
			Expect(s.Elapsed).To(BeNumerically(">=", prev))
			prev = s.Elapsed
		}
	})

	Context("invariant violations", func() {
		It("should reject non-positive budgets", func() {
			for _, b := range []float64{0, -1, math.NaN(), math.Inf(1)} {
				_, err := BeginCycle(Initial(), b, 10)
				Expect(err).To(MatchError(ErrNonPositiveBudget))
			}
		})

		It("should reject a checkpoint behind the fine clock", func() {
			s := mustBegin(Initial(), 1.0)
			s, _ = mustAdvance(s, 2.0)

			_, err := BeginCycle(s, 1.0, 0.5)

			Expect(err).To(MatchError(ErrCheckpointRegressed))
		})

		It("should reject negotiation in the middle of a cycle", func() {
			s := mustBegin(Initial(), 1.0)

			_, err := BeginCycle(s, 1.0, 2.0)

			Expect(err).To(MatchError(ErrNotCatchingUp))
		})

		It("should reject stepping without a budget", func() {
			_, _, err := Advance(Initial(), 0.1)

			Expect(err).To(MatchError(ErrNoBudget))
		})

		It("should reject negative steps", func() {
			s := mustBegin(Initial(), 1.0)

			_, _, err := Advance(s, -0.1)

			Expect(err).To(MatchError(ErrNegativeStep))
		})
	})
})

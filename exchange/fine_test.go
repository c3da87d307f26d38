package exchange

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/mesh"
	"github.com/sarchlab/gridexchange/timestep"
)

// scriptedCoarse plays the coarse side against a mocked transport. It grants
// a fixed budget per cycle and keeps what the fine side sends.
type scriptedCoarse struct {
	budget     float64
	checkpoint func(granted int) float64

	inbox   []comm.Msg
	granted int
	readies []*comm.ReadyMsg
	pushes  []*comm.BoundaryValuesMsg
}

func (c *scriptedCoarse) install(t *MockTransport) {
	t.EXPECT().
		Notify(gomock.Any()).
		DoAndReturn(func(msg comm.Msg) error {
			c.readies = append(c.readies, msg.(*comm.ReadyMsg))
			return nil
		}).
		AnyTimes()

	t.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg comm.Msg) error {
			switch m := msg.(type) {
			case *comm.TimestepReq:
				c.granted++
				c.inbox = append(c.inbox, &comm.TimestepRsp{
					RspTo:      m.ID,
					Budget:     c.budget,
					Checkpoint: c.checkpoint(c.granted),
				})
			case *comm.BoundaryValuesMsg:
				c.pushes = append(c.pushes, m)
			}

			return nil
		}).
		AnyTimes()

	t.EXPECT().
		Recv(gomock.Any()).
		DoAndReturn(func(context.Context) (comm.Msg, error) {
			Expect(c.inbox).NotTo(BeEmpty(), "fine side waits for a message")
			msg := c.inbox[0]
			c.inbox = c.inbox[1:]

			return msg, nil
		}).
		AnyTimes()
}

var _ = Describe("Fine", func() {
	var (
		ctx       context.Context
		mockCtrl  *gomock.Controller
		transport *MockTransport
		solver    *testSolver
		fine      *Fine
		peer      *scriptedCoarse
		canonical *boundary.Boundary
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockCtrl = gomock.NewController(GinkgoT())
		transport = NewMockTransport(mockCtrl)
		solver = newTestSolver(transport, fineGrid(), 0)
		fine = NewFine(Options{})

		var err error
		canonical, _, err = boundary.Create(coarseGrid(), interfaceBox, 1e-9)
		Expect(err).NotTo(HaveOccurred())

		peer = &scriptedCoarse{
			budget: 1.0,
			checkpoint: func(granted int) float64 {
				return float64(granted)
			},
		}
		peer.inbox = append(peer.inbox,
			&comm.BoundaryMsg{
				BoundaryID: canonical.ID(),
				Points:     canonical.Points(),
			},
			&comm.FieldMsg{
				Name:   FieldTemperature,
				Values: []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
		)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	setup := func() {
		peer.install(transport)
		Expect(fine.CreateExchanger(solver)).To(Succeed())

		b, err := fine.FindBoundary(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.ID()).To(Equal(canonical.ID()))

		Expect(fine.InitializeFields(ctx)).To(Succeed())
	}

	step := func(dt float64) float64 {
		Expect(fine.NewStep(ctx)).To(Succeed())
		taken, err := fine.StableTimestep(ctx, dt)
		Expect(err).NotTo(HaveOccurred())
		Expect(fine.ApplyBoundaryConditions(ctx)).To(Succeed())

		return taken
	}

	It("should scatter the initial coarse values onto the boundary", func() {
		setup()

		temp := solver.temperature()
		for i, p := range canonical.Points() {
			node, ok := solver.grid.Locate(p, 1e-9)
			Expect(ok).To(BeTrue())
			Expect(temp[node]).To(Equal(float64(i + 1)))
		}
	})

	It("should sub-cycle and land exactly on the budget", func() {
		setup()

		var taken []float64
		for i := 0; i < 15; i++ {
			taken = append(taken, step(0.15))
		}

		for cycle := 0; cycle < 2; cycle++ {
			for i := 0; i < 6; i++ {
				Expect(taken[cycle*7+i]).To(Equal(0.15))
			}
			Expect(taken[cycle*7+6]).To(BeNumerically("~", 0.10, 1e-12))
		}
		Expect(taken[14]).To(Equal(0.15))

		Expect(peer.granted).To(Equal(3))
		Expect(peer.readies).To(HaveLen(3))
		for i, r := range peer.readies {
			Expect(r.Cycle).To(Equal(i + 1))
			Expect(r.Values).To(BeNil())
		}

		Expect(peer.pushes).To(HaveLen(15))
		for i, p := range peer.pushes {
			Expect(p.Final).To(Equal(i == 6 || i == 13))
			Expect(p.Step).To(Equal(i%7 + 1))
			Expect(p.Values).To(HaveLen(8))
			if p.Final {
				Expect(p.Elapsed).To(Equal(1.0))
			}
		}

		state := fine.State()
		Expect(state.Cycle).To(Equal(3))
		Expect(state.Clock).To(Equal(2.0))
		Expect(state.Phase()).To(Equal("RUNNING"))
	})

	It("should open a cycle only once", func() {
		setup()

		Expect(fine.NewStep(ctx)).To(Succeed())
		Expect(fine.NewStep(ctx)).To(Succeed())

		Expect(peer.readies).To(HaveLen(1))
	})

	It("should push the boundary field with the ready signal", func() {
		rec := &hookRecorder{}
		fine = NewFine(Options{PushFieldOnCycleStart: true})
		fine.AcceptHook(rec)
		setup()

		Expect(fine.NewStep(ctx)).To(Succeed())

		Expect(peer.readies).To(HaveLen(1))
		Expect(peer.readies[0].Values).To(Equal(
			[]float64{1, 2, 3, 4, 5, 6, 7, 8}))

		last := len(rec.positions) - 1
		Expect(rec.positions[last]).To(Equal(HookPosReady))
		Expect(rec.items[last]).To(Equal([]float64{1, 2, 3, 4, 5, 6, 7, 8}))
	})

	It("should refuse to negotiate before the cycle is opened", func() {
		setup()

		_, err := fine.StableTimestep(ctx, 0.15)

		Expect(err).To(MatchError(ErrOutOfOrder))
		Expect(peer.granted).To(Equal(0))
	})

	It("should push once per step", func() {
		setup()
		step(0.15)

		Expect(fine.ApplyBoundaryConditions(ctx)).To(MatchError(ErrOutOfOrder))
	})

	It("should refuse a new step before the previous one is pushed", func() {
		setup()
		Expect(fine.NewStep(ctx)).To(Succeed())
		_, err := fine.StableTimestep(ctx, 0.15)
		Expect(err).NotTo(HaveOccurred())

		_, err = fine.StableTimestep(ctx, 0.15)

		Expect(err).To(MatchError(ErrOutOfOrder))
		Expect(fine.State().Elapsed).To(Equal(0.15))
		Expect(peer.pushes).To(BeEmpty())
	})

	It("should reject a non-positive budget", func() {
		peer.budget = 0
		setup()
		Expect(fine.NewStep(ctx)).To(Succeed())

		_, err := fine.StableTimestep(ctx, 0.15)

		Expect(err).To(MatchError(timestep.ErrNonPositiveBudget))
	})

	It("should reject a checkpoint behind the fine clock", func() {
		peer.checkpoint = func(int) float64 { return 0 }
		setup()
		Expect(fine.NewStep(ctx)).To(Succeed())

		_, err := fine.StableTimestep(ctx, 0.15)

		Expect(err).To(MatchError(timestep.ErrCheckpointRegressed))
	})

	It("should not install a mapping resolved for another boundary", func() {
		setup()
		other := boundary.New("bnd-other", canonical.Points())

		err := fine.setBoundary(other, fine.mapping)

		Expect(err).To(MatchError(boundary.ErrBoundaryMismatch))
		Expect(fine.Snapshot().BoundaryID).To(Equal(canonical.ID()))
	})

	It("should fail on a boundary point outside the fine mesh", func() {
		pts := canonical.Points()
		pts[3] = mesh.Point{0.9, 0.9, 0}
		peer.inbox[0] = &comm.BoundaryMsg{BoundaryID: "bnd-x", Points: pts}
		peer.install(transport)
		Expect(fine.CreateExchanger(solver)).To(Succeed())

		_, err := fine.FindBoundary(ctx)

		var unmapped *boundary.UnmappedPointError
		Expect(errors.As(err, &unmapped)).To(BeTrue())
		Expect(unmapped.Index).To(Equal(3))
	})

	It("should report hook events", func() {
		rec := &hookRecorder{}
		fine.AcceptHook(rec)
		Expect(fine.NumHooks()).To(Equal(1))
		setup()

		for i := 0; i < 7; i++ {
			step(0.15)
		}

		Expect(rec.count(HookPosBoundary)).To(Equal(1))
		Expect(rec.count(HookPosFieldsInit)).To(Equal(1))
		Expect(rec.count(HookPosReady)).To(Equal(1))
		Expect(rec.count(HookPosNegotiate)).To(Equal(1))
		Expect(rec.count(HookPosStep)).To(Equal(7))
		Expect(rec.count(HookPosBoundaryPush)).To(Equal(7))

		last := rec.details[len(rec.details)-1]
		Expect(last.Catchup).To(BeTrue())
		Expect(last.Elapsed).To(Equal(1.0))
	})

	It("should be created only once", func() {
		Expect(fine.CreateExchanger(solver)).To(Succeed())
		Expect(fine.CreateExchanger(solver)).To(MatchError(ErrAlreadyCreated))
	})

	It("should require a boundary before exchanging fields", func() {
		Expect(fine.CreateExchanger(solver)).To(Succeed())
		Expect(fine.InitializeFields(ctx)).To(MatchError(ErrNoBoundary))
	})

	Context("when the solver is misconfigured", func() {
		It("should need an inter-process transport", func() {
			solver.intercomm = nil

			err := fine.CreateExchanger(solver)

			Expect(err).To(MatchError(ErrInvalidSetup))
			Expect(err).To(MatchError(comm.ErrNoIntercom))
		})

		It("should need to run as the local leader", func() {
			solver.group = comm.RankGroup{MyRank: 1, NumRanks: 2}

			Expect(fine.CreateExchanger(solver)).To(MatchError(ErrInvalidSetup))
		})

		It("should need a leader inside the group", func() {
			solver.localLeader = 4

			Expect(fine.CreateExchanger(solver)).To(MatchError(ErrInvalidSetup))
		})

		It("should need the exchanged field", func() {
			solver.fields = NewFields()

			Expect(fine.CreateExchanger(solver)).To(MatchError(ErrInvalidSetup))
		})

		It("should need a field that matches the mesh", func() {
			solver.fields.Set(FieldTemperature, []float64{0})

			Expect(fine.CreateExchanger(solver)).To(MatchError(ErrInvalidSetup))
		})
	})
})

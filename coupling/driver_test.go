package coupling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/comm/tcp"
	"github.com/sarchlab/gridexchange/comm/wire"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/mesh"
	"github.com/sarchlab/gridexchange/solver"
	"github.com/sarchlab/gridexchange/timestep"
)

var interfaceBox = mesh.Box{
	Min: mesh.Point{0.25, 0.25, 0},
	Max: mesh.Point{0.75, 0.75, 0},
}

func buildHost(t comm.Transport, box mesh.Box, dims [3]int, dt float64) *solver.Relaxation {
	g, err := mesh.NewGrid(box, dims)
	Expect(err).NotTo(HaveOccurred())

	s, err := solver.MakeBuilder().
		WithGrid(g).
		WithIntercomm(t).
		WithTimestep(dt).
		WithInitialTemperature(func(p mesh.Point) float64 { return p[0] + p[1] }).
		Build()
	Expect(err).NotTo(HaveOccurred())

	return s
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		layout Layout
		buf    *bytes.Buffer
		logger zerolog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		layout = Layout{World: 3, Coarse: []int{0}, Fine: []int{1}}
		buf = new(bytes.Buffer)
		logger = zerolog.New(buf)
	})

	It("should only warn on an orphan rank", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		transport := NewMockTransport(mockCtrl)
		host := buildHost(transport, interfaceBox, [3]int{3, 3, 1}, 0.1)

		a, err := layout.Resolve(2)
		Expect(err).NotTo(HaveOccurred())

		d, err := MakeDriverBuilder().
			WithAssignment(a).
			WithHost(host).
			WithLogger(logger).
			Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Run(ctx)).To(Succeed())
		Expect(d.Exchanger()).To(BeNil())
		Expect(buf.String()).To(ContainSubstring(`"level":"warn"`))
		Expect(buf.String()).To(ContainSubstring("node '2' is an orphan"))

		mockCtrl.Finish()
	})

	It("should run both sides to the last cycle", func() {
		a, b := comm.NewPipe()
		coarseHost := buildHost(a, mesh.Box{Max: mesh.Point{1, 1, 0}}, [3]int{5, 5, 1}, 1.0)
		fineHost := buildHost(b, interfaceBox, [3]int{9, 9, 1}, 0.15)

		build := func(rank int, host Host, opts exchange.Options) *Driver {
			asg, err := layout.Resolve(rank)
			Expect(err).NotTo(HaveOccurred())

			x, err := exchange.New(asg.Role, opts)
			Expect(err).NotTo(HaveOccurred())

			d, err := MakeDriverBuilder().
				WithAssignment(asg).
				WithExchanger(x).
				WithHost(host).
				WithCycles(3).
				WithTimeout(10 * time.Second).
				WithLogger(logger).
				Build()
			Expect(err).NotTo(HaveOccurred())

			return d
		}

		coarse := build(0, coarseHost, exchange.Options{Interface: interfaceBox})
		fine := build(1, fineHost, exchange.Options{})

		done := make(chan error, 1)
		go func() { done <- coarse.Run(ctx) }()

		Expect(fine.Run(ctx)).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))

		Expect(coarseHost.Time()).To(Equal(3.0))
		Expect(coarseHost.Steps()).To(Equal(3))
		Expect(fineHost.Steps()).To(Equal(21))
		Expect(fineHost.Time()).To(BeNumerically("~", 3.0, 1e-9))

		s := fine.Exchanger().Snapshot()
		Expect(s.Cycle).To(Equal(3))
		Expect(s.Landed).To(BeTrue())
		Expect(buf.String()).To(ContainSubstring("exchange completed"))
	})

	It("should give up waiting after the timeout", func() {
		_, b := comm.NewPipe()
		host := buildHost(b, interfaceBox, [3]int{9, 9, 1}, 0.15)

		asg, err := layout.Resolve(1)
		Expect(err).NotTo(HaveOccurred())

		d, err := MakeDriverBuilder().
			WithAssignment(asg).
			WithExchanger(exchange.NewFine(exchange.Options{})).
			WithHost(host).
			WithTimeout(20 * time.Millisecond).
			WithLogger(logger).
			Build()
		Expect(err).NotTo(HaveOccurred())

		err = d.Run(ctx)

		var failure *Error
		Expect(errors.As(err, &failure)).To(BeTrue())
		Expect(failure.Category).To(Equal(CategoryTransport))
		Expect(failure.Op).To(Equal("find boundary"))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("should reject an exchanger of the wrong role", func() {
		asg, err := layout.Resolve(0)
		Expect(err).NotTo(HaveOccurred())

		_, err = MakeDriverBuilder().
			WithAssignment(asg).
			WithExchanger(exchange.NewFine(exchange.Options{})).
			WithHost(buildHost(nil, interfaceBox, [3]int{3, 3, 1}, 0.1)).
			Build()

		Expect(err).To(MatchError(exchange.ErrInvalidSetup))
	})

	It("should report a setup failure", func() {
		asg, err := layout.Resolve(1)
		Expect(err).NotTo(HaveOccurred())

		d, err := MakeDriverBuilder().
			WithAssignment(asg).
			WithExchanger(exchange.NewFine(exchange.Options{})).
			WithHost(buildHost(nil, interfaceBox, [3]int{3, 3, 1}, 0.1)).
			WithLogger(logger).
			Build()
		Expect(err).NotTo(HaveOccurred())

		err = d.Run(ctx)

		Expect(err).To(MatchError(comm.ErrNoIntercom))
		Expect(Classify(err)).To(Equal(CategorySetup))
	})
})

var _ = DescribeTable("Classify",
	func(err error, want Category) {
		Expect(Classify(fmt.Errorf("wrapped: %w", err))).To(Equal(want))
	},
	Entry("setup", exchange.ErrAlreadyCreated, CategorySetup),
	Entry("layout", ErrInvalidLayout, CategorySetup),
	Entry("unmapped point", &boundary.UnmappedPointError{Index: 1}, CategoryMapping),
	Entry("duplicate node", boundary.ErrDuplicateNode, CategoryMapping),
	Entry("landing", exchange.ErrLandingMismatch, CategoryNegotiation),
	Entry("checkpoint", timestep.ErrCheckpointRegressed, CategoryNegotiation),
	Entry("unexpected message",
		&comm.UnexpectedMsgError{Want: comm.KindReady, Got: comm.KindBye},
		CategoryNegotiation),
	Entry("peer left", comm.ErrPeerLeft, CategoryTransport),
	Entry("handshake", tcp.ErrHandshake, CategoryTransport),
	Entry("corrupt frame", wire.ErrInvalidMagic, CategoryTransport),
	Entry("timeout", context.DeadlineExceeded, CategoryTransport),
	Entry("invalid configuration",
		errors.New("config: cycles must be positive, got 0"), Category("")),
	Entry("unknown flag", errors.New("unknown flag: --cycle"), Category("")),
)

var _ = Describe("Error", func() {
	It("should name the category when there is one", func() {
		err := wrap("new step", comm.ErrPeerLeft)

		Expect(err.Error()).To(HavePrefix("transport failure during new step"))
	})

	It("should leave an unknown category out of the message", func() {
		err := wrap("new step", errors.New("solver diverged"))

		Expect(err.Error()).To(Equal("failure during new step: solver diverged"))
	})
})

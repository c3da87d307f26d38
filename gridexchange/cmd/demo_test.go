package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/sarchlab/gridexchange/config"
	"github.com/sarchlab/gridexchange/coupling"
	"github.com/sarchlab/gridexchange/datarecording"
	"github.com/sarchlab/gridexchange/exchange"
)

var _ = Describe("Demo", func() {
	var (
		ctx context.Context
		cfg config.Config
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		cfg = config.Default()
		cfg.Cycles = 3
	})

	It("should run both sides to the last cycle", func() {
		res, err := runDemo(ctx, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Cycles).To(Equal(3))
		Expect(res.BoundarySize).To(BeNumerically(">", 0))
		Expect(res.CoarseSteps).To(Equal(3))
		Expect(res.FineSteps).To(Equal(21))
		Expect(res.CoarseTime).To(BeNumerically("~", 3.0, 1e-9))
		Expect(res.FineTime).To(BeNumerically("~", 3.0, 1e-9))
	})

	It("should print a summary", func() {
		res, err := runDemo(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		buf := new(bytes.Buffer)
		res.print(buf)

		Expect(buf.String()).To(ContainSubstring("cycles:        3"))
		Expect(buf.String()).To(ContainSubstring("after 21 steps"))
	})

	It("should record the exchange", func() {
		cfg.Recording.Enabled = true
		cfg.Recording.Path = filepath.Join(GinkgoT().TempDir(), "trace")

		res, err := runDemo(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		reader, err := datarecording.OpenReader(res.TracePath + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(reader.Close)

		events, total, err := reader.Events(ctx, datarecording.EventFilter{
			Role:  "coarse",
			Event: "CycleEnd",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(3))
		Expect(events[2].Clock).To(Equal(3.0))
	})

	It("should serve the monitor while running", func() {
		cfg.Monitor.Enabled = true

		res, err := runDemo(ctx, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.MonitorURL).To(HavePrefix("http://localhost:"))
	})

	It("should fail when the fine mesh misses boundary points", func() {
		cfg.Fine.Dims = [3]int{4, 4, 1}

		_, err := runDemo(ctx, cfg)

		Expect(err).To(HaveOccurred())
		Expect(coupling.Classify(err)).To(Equal(coupling.CategoryMapping))
	})
})

var _ = Describe("Run", func() {
	It("should let an orphan rank return", func() {
		cfg := config.Default()
		cfg.Layout = coupling.Layout{World: 3, Coarse: []int{0}, Fine: []int{1}}
		cfg.Rank = 2

		Expect(runRank(context.Background(), cfg)).To(Succeed())
	})

	It("should let a rank that does not lead its group return", func() {
		cfg := config.Default()
		cfg.Layout = coupling.Layout{World: 3, Coarse: []int{0, 2}, Fine: []int{1}}
		cfg.Rank = 2

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		Expect(runRank(ctx, cfg)).To(Succeed())
		Expect(ctx.Err()).NotTo(HaveOccurred())
	})
})

var _ = Describe("Flags", func() {
	It("should layer changed flags over the configuration", func() {
		var opts runFlags

		c := &cobra.Command{}
		addCommonFlags(c, &opts)
		c.Flags().StringVar(&opts.role, "role", "", "")
		Expect(c.Flags().Set("cycles", "4")).To(Succeed())
		Expect(c.Flags().Set("role", "fine")).To(Succeed())
		Expect(c.Flags().Set("monitor-port", "0")).To(Succeed())

		cfg, err := loadConfig(c, opts)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Cycles).To(Equal(4))
		Expect(cfg.Role).To(Equal(exchange.RoleFine))
		Expect(cfg.Monitor.Enabled).To(BeTrue())
		Expect(cfg.Recording.Enabled).To(BeFalse())
	})

	It("should reject invalid values", func() {
		var opts runFlags

		c := &cobra.Command{}
		addCommonFlags(c, &opts)
		Expect(c.Flags().Set("cycles", "0")).To(Succeed())

		_, err := loadConfig(c, opts)

		Expect(err).To(HaveOccurred())
	})
})

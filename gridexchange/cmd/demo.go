package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/config"
	"github.com/sarchlab/gridexchange/idgen"
)

var (
	demoOpts   runFlags
	demoCoarse float64
	demoFine   float64
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run both sides of a coupled solve in one process.",
	Long: `Run both sides of a coupled solve in one process. The two leaders ` +
		`talk over an in-memory pipe, so no network setup is needed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, demoOpts)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("coarse-dt") {
			cfg.Coarse.Timestep = demoCoarse
		}

		if cmd.Flags().Changed("fine-dt") {
			cfg.Fine.Timestep = demoFine
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := runDemo(ctx, cfg)
		if err != nil {
			return err
		}

		res.print(cmd.OutOrStdout())

		return nil
	},
}

func init() {
	addCommonFlags(demoCmd, &demoOpts)
	demoCmd.Flags().Float64Var(&demoCoarse, "coarse-dt", 0,
		"Step of the coarse solver.")
	demoCmd.Flags().Float64Var(&demoFine, "fine-dt", 0,
		"Step the fine solver proposes.")

	rootCmd.AddCommand(demoCmd)
}

// demoResult summarizes an in-process run.
type demoResult struct {
	RunID        string
	Cycles       int
	CoarseTime   float64
	FineTime     float64
	CoarseSteps  int
	FineSteps    int
	BoundarySize int
	TracePath    string
	MonitorURL   string
}

func (r demoResult) print(w io.Writer) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	fmt.Fprintf(w, "  cycles:        %d\n", r.Cycles)
	fmt.Fprintf(w, "  boundary:      %d points\n", r.BoundarySize)
	fmt.Fprintf(w, "  coarse:        t=%g after %d steps\n", r.CoarseTime, r.CoarseSteps)
	fmt.Fprintf(w, "  fine:          t=%g after %d steps\n", r.FineTime, r.FineSteps)

	if r.TracePath != "" {
		fmt.Fprintf(w, "  trace:         %s.sqlite3\n", r.TracePath)
	}

	if r.MonitorURL != "" {
		fmt.Fprintf(w, "  monitor:       %s\n", r.MonitorURL)
	}
}

// runDemo drives the first coarse rank and the first fine rank of the layout
// against each other over a pipe.
func runDemo(ctx context.Context, cfg config.Config) (res demoResult, err error) {
	res.RunID = idgen.NewRunID()
	logger := log.With().Str("run", res.RunID).Logger()

	in, err := newInstruments(cfg, res.RunID, logger)
	if err != nil {
		return res, err
	}

	res.TracePath = in.dbPath
	res.MonitorURL = in.url

	defer func() {
		err = errors.Join(err, in.close(err))
	}()

	a, b := comm.NewPipe()
	defer a.Close()
	defer b.Close()

	coarse, err := demoSide(cfg, cfg.Layout.Coarse[0], a, in)
	if err != nil {
		return res, err
	}

	fine, err := demoSide(cfg, cfg.Layout.Fine[0], b, in)
	if err != nil {
		return res, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := coarse.driver.Run(ctx)
		if err != nil {
			cancel()
		}
		done <- err
	}()

	fineErr := fine.driver.Run(ctx)
	if fineErr != nil {
		cancel()
	}

	coarseErr := <-done

	if err := errors.Join(coarseErr, fineErr); err != nil {
		return res, err
	}

	snapshot := coarse.exchanger.Snapshot()
	res.Cycles = snapshot.Cycle
	res.BoundarySize = snapshot.BoundarySize
	res.CoarseTime = coarse.host.Time()
	res.CoarseSteps = coarse.host.Steps()
	res.FineTime = fine.host.Time()
	res.FineSteps = fine.host.Steps()

	return res, nil
}

func demoSide(
	cfg config.Config,
	rank int,
	t comm.Transport,
	in *instruments,
) (*side, error) {
	a, err := cfg.Layout.Resolve(rank)
	if err != nil {
		return nil, err
	}

	logger := in.logger.With().
		Int("rank", rank).
		Str("role", a.Role.String()).
		Logger()

	s, err := buildSide(cfg, a, t, in, logger)
	if err != nil {
		return nil, fmt.Errorf("%s side: %w", a.Role, err)
	}

	return s, nil
}

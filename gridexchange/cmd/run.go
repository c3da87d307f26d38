package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sarchlab/gridexchange/config"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/idgen"
)

type runFlags struct {
	configPath string
	role       string
	rank       int
	cycles     int
	record     bool
	monitor    int
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one rank of a coupled solve.",
	Long: `Run one rank of a coupled solve. The coarse leader listens on ` +
		`transport.listen and the fine leader connects to transport.connect. ` +
		`Ranks that belong to neither side, or that do not lead their group, ` +
		`only log a warning.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, runOpts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runRank(ctx, cfg)
	},
}

func init() {
	addCommonFlags(runCmd, &runOpts)
	runCmd.Flags().StringVar(&runOpts.role, "role", "",
		"Role of this process (coarse or fine). Overrides the layout.")
	runCmd.Flags().IntVar(&runOpts.rank, "rank", 0,
		"World rank of this process.")

	rootCmd.AddCommand(runCmd)
}

func addCommonFlags(cmd *cobra.Command, opts *runFlags) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to a TOML configuration file.")
	cmd.Flags().IntVar(&opts.cycles, "cycles", 0,
		"Number of coarse cycles. Overrides the configuration.")
	cmd.Flags().BoolVar(&opts.record, "record", false,
		"Record the exchange into a SQLite trace database.")
	cmd.Flags().IntVar(&opts.monitor, "monitor-port", -1,
		"Serve the monitor on this port. 0 picks a free port.")
}

// loadConfig layers the command line flags that were set on top of the
// configuration file and the environment.
func loadConfig(cmd *cobra.Command, opts runFlags) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()

	if flags.Changed("rank") {
		cfg.Rank = opts.rank
	}

	if flags.Changed("role") {
		cfg.Role, err = exchange.ParseRole(opts.role)
		if err != nil {
			return cfg, err
		}
	}

	if flags.Changed("cycles") {
		cfg.Cycles = opts.cycles
	}

	if flags.Changed("record") {
		cfg.Recording.Enabled = opts.record
	}

	if flags.Changed("monitor-port") && opts.monitor >= 0 {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Port = opts.monitor
	}

	return cfg, cfg.Validate()
}

// runRank connects a leader rank to its peer and drives the exchange. Other
// ranks return without exchanging.
func runRank(ctx context.Context, cfg config.Config) (err error) {
	a, err := cfg.Assignment()
	if err != nil {
		return err
	}

	runID := idgen.NewRunID()
	logger := log.With().Str("run", runID).Int("rank", a.Rank).Logger()

	in, err := newInstruments(cfg, runID, logger)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, in.close(err))
	}()

	if a.Orphan() {
		s, err := buildSide(cfg, a, nil, in, logger)
		if err != nil {
			return err
		}

		return s.driver.Run(ctx)
	}

	if !a.IsLeader() {
		logger.Warn().
			Str("role", a.Role.String()).
			Msg("rank does not lead its group, skipping the exchange")

		return nil
	}

	t, err := connect(ctx, cfg, a, logger)
	if err != nil {
		return err
	}
	defer t.Close()

	s, err := buildSide(cfg, a, t, in, logger)
	if err != nil {
		return err
	}

	if err := s.driver.Run(ctx); err != nil {
		return err
	}

	logger.Info().
		Float64("time", s.host.Time()).
		Int("steps", s.host.Steps()).
		Msg("solver finished")

	return nil
}

// Package cmd provides the command-line interface of gridexchange.
package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/gridexchange/coupling"
	"github.com/sarchlab/gridexchange/logging"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gridexchange",
	Short: "gridexchange couples a coarse solver with a fine solver.",
	Long: `gridexchange couples a coarse solver that covers the whole domain ` +
		`with a fine solver that covers a sub-region of it. The fine side ` +
		`sub-cycles inside every coarse step and both sides exchange the ` +
		`temperature across the interface boundary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		logging.ConfigureRuntime()

		if logLevel == "" {
			return nil
		}

		level, ok := logging.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", logLevel)
		}

		zerolog.SetGlobalLevel(level)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (trace, debug, info, warn, error). Overrides "+
			logging.EnvLogLevel+".")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. A failed run exits with status 1 after the exit handlers
// have flushed the trace database.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		e := log.Error().Err(err)
		if category := coupling.Classify(err); category != "" {
			e = e.Str("category", string(category))
		}

		e.Msg("gridexchange failed")
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

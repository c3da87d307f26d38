package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sarchlab/gridexchange/datarecording"
)

type traceFlags struct {
	filter   datarecording.EventFilter
	boundary string
}

var traceOpts traceFlags

var traceCmd = &cobra.Command{
	Use:   "trace <trace.sqlite3>",
	Short: "Show the exchange events of a recorded run.",
	Long: `Show the exchange events of a run that was recorded with --record. ` +
		`With --boundary, list the points of a recorded boundary instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showTrace(cmd.Context(), cmd.OutOrStdout(), args[0], traceOpts)
	},
}

func init() {
	f := traceCmd.Flags()
	f.StringVar(&traceOpts.filter.Role, "role", "",
		"Only show events of this side (coarse or fine).")
	f.StringVar(&traceOpts.filter.Event, "event", "",
		"Only show events at this hook position, e.g. CycleEnd.")
	f.IntVar(&traceOpts.filter.Cycle, "cycle", 0,
		"Only show events of this cycle.")
	f.IntVar(&traceOpts.filter.Limit, "limit", 0,
		"Show at most this many events. 0 shows all.")
	f.IntVar(&traceOpts.filter.Offset, "offset", 0,
		"Skip this many events. Only used with --limit.")
	f.StringVar(&traceOpts.boundary, "boundary", "",
		"List the points of the boundary with this ID.")

	rootCmd.AddCommand(traceCmd)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		}).
		Headers(headers...)
}

func showTrace(ctx context.Context, w io.Writer, path string, opts traceFlags) error {
	reader, err := datarecording.OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if opts.boundary != "" {
		return showBoundary(ctx, w, reader, opts.boundary)
	}

	props, err := reader.Properties(ctx)
	if err != nil {
		return err
	}

	for _, p := range props {
		fmt.Fprintf(w, "%s: %s\n", p.Property, p.Value)
	}

	events, total, err := reader.Events(ctx, opts.filter)
	if err != nil {
		return err
	}

	t := newTable("Seq", "Exchanger", "Event", "Cycle",
		"Taken", "Elapsed", "Clock", "Final")
	for _, e := range events {
		t.Row(
			strconv.Itoa(e.Seq),
			e.Exchanger,
			e.Event,
			strconv.Itoa(e.Cycle),
			formatFloat(e.Taken),
			formatFloat(e.Elapsed),
			formatFloat(e.Clock),
			strconv.FormatBool(e.Final),
		)
	}

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d of %d events\n", len(events), total)

	return nil
}

func showBoundary(
	ctx context.Context,
	w io.Writer,
	reader *datarecording.Reader,
	id string,
) error {
	points, err := reader.BoundaryPoints(ctx, id)
	if err != nil {
		return err
	}

	if len(points) == 0 {
		return fmt.Errorf("no boundary %q in the trace", id)
	}

	t := newTable("Idx", "X", "Y", "Z")
	for _, p := range points {
		t.Row(strconv.Itoa(p.Idx), formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
	}

	fmt.Fprintln(w, t.Render())

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

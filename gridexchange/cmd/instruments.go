package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarchlab/gridexchange/config"
	"github.com/sarchlab/gridexchange/datarecording"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/monitoring"
)

// instruments are the observers attached to every exchanger of a process.
type instruments struct {
	runID  string
	cycles int
	logger zerolog.Logger

	recorder datarecording.DataRecorder
	exec     *datarecording.ExecRecorder
	steps    *datarecording.StepRecorder
	dbPath   string

	monitor *monitoring.Monitor
	url     string
}

func newInstruments(
	cfg config.Config,
	runID string,
	logger zerolog.Logger,
) (*instruments, error) {
	in := &instruments{
		runID:  runID,
		cycles: cfg.Cycles,
		logger: logger,
	}

	if cfg.Recording.Enabled {
		if err := in.startRecording(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Monitor.Enabled {
		in.monitor = monitoring.NewMonitor().
			WithLogger(logger).
			WithPortNumber(cfg.Monitor.Port).
			WithBrowser(cfg.Monitor.OpenBrowser)

		url, err := in.monitor.StartServer()
		if err != nil {
			return nil, err
		}

		in.url = url
	}

	return in, nil
}

func (in *instruments) startRecording(cfg config.Config) error {
	in.dbPath = fmt.Sprintf("%s_%s", cfg.Recording.Path, in.runID)

	recorder, err := datarecording.New(in.dbPath)
	if err != nil {
		return fmt.Errorf("open trace database: %w", err)
	}

	exec, err := datarecording.NewExecRecorder(recorder)
	if err != nil {
		return err
	}

	steps, err := datarecording.NewStepRecorder(recorder, in.runID)
	if err != nil {
		return err
	}

	exec.Start()
	exec.Set("Run ID", in.runID)
	exec.Set("Cycles", fmt.Sprint(cfg.Cycles))
	exec.Set("Coarse Timestep", fmt.Sprint(cfg.Coarse.Timestep))
	exec.Set("Fine Timestep", fmt.Sprint(cfg.Fine.Timestep))
	exec.Set("Field", cfg.Exchange.Field)
	exec.Set("Push Field On Cycle Start",
		fmt.Sprint(cfg.Exchange.PushFieldOnCycleStart))

	in.recorder = recorder
	in.exec = exec
	in.steps = steps

	in.logger.Info().Str("path", in.dbPath+".sqlite3").Msg("recording exchange")

	return nil
}

func (in *instruments) attach(x exchange.Exchanger) {
	x.AcceptHook(exchange.NewLogHook(in.logger))

	if in.steps != nil {
		x.AcceptHook(in.steps)
	}

	if in.monitor != nil {
		in.monitor.RegisterExchanger(x)
		bar := in.monitor.CreateProgressBar(x.Name(), uint64(in.cycles))
		x.AcceptHook(monitoring.NewCycleTracker(bar))
	}
}

// close flushes the trace database and stops the monitor. runErr is noted in
// the exec table.
func (in *instruments) close(runErr error) error {
	var errs []error

	if in.recorder != nil {
		status := "ok"
		if runErr != nil {
			status = runErr.Error()
		}

		in.exec.Set("Status", status)

		errs = append(errs, in.steps.Err(), in.exec.End(), in.recorder.Close())
	}

	if in.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		errs = append(errs, in.monitor.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/comm/tcp"
	"github.com/sarchlab/gridexchange/config"
	"github.com/sarchlab/gridexchange/coupling"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/mesh"
	"github.com/sarchlab/gridexchange/solver"
)

// side is one rank of a run, ready to be driven.
type side struct {
	assignment coupling.Assignment
	host       *solver.Relaxation
	exchanger  exchange.Exchanger
	driver     *coupling.Driver
}

// initialTemperature gives the two sides different starting fields so that
// the initial transfer is visible in the trace.
func initialTemperature(r exchange.Role) func(p mesh.Point) float64 {
	if r == exchange.RoleCoarse {
		return func(p mesh.Point) float64 { return 1 + p[0] }
	}

	return func(mesh.Point) float64 { return 0 }
}

func buildSide(
	cfg config.Config,
	a coupling.Assignment,
	t comm.Transport,
	in *instruments,
	logger zerolog.Logger,
) (*side, error) {
	s := &side{assignment: a}

	b := coupling.MakeDriverBuilder().
		WithAssignment(a).
		WithCycles(cfg.Cycles).
		WithTimeout(cfg.Timeouts.Exchange).
		WithLogger(logger)

	if !a.Orphan() {
		sideCfg := cfg.SideOf(a.Role)

		grid, err := mesh.NewGrid(sideCfg.Box, sideCfg.Dims)
		if err != nil {
			return nil, err
		}

		s.host, err = solver.MakeBuilder().
			WithGrid(grid).
			WithGroup(a.Group).
			WithIntercomm(t).
			WithLeaders(a.LocalLeader, a.RemoteLeader).
			WithTimestep(sideCfg.Timestep).
			WithInitialTemperature(initialTemperature(a.Role)).
			Build()
		if err != nil {
			return nil, err
		}

		opts := cfg.Exchange
		opts.Name = fmt.Sprintf("%s-%d", a.Role, a.Rank)

		s.exchanger, err = exchange.New(a.Role, opts)
		if err != nil {
			return nil, err
		}

		in.attach(s.exchanger)

		b = b.WithHost(s.host).WithExchanger(s.exchanger)
	}

	d, err := b.Build()
	if err != nil {
		return nil, err
	}

	s.driver = d

	return s, nil
}

// connect opens the intercommunicator of a leader rank. The coarse leader
// listens and the fine leader dials.
func connect(
	ctx context.Context,
	cfg config.Config,
	a coupling.Assignment,
	logger zerolog.Logger,
) (comm.Transport, error) {
	tcpCfg := tcp.DefaultConfig()
	tcpCfg.HandshakeTimeout = cfg.Timeouts.Handshake

	if cfg.Timeouts.Handshake > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Handshake)
		defer cancel()
	}

	hello := comm.Hello{
		MsgMeta: comm.MsgMeta{Src: a.Rank, Dst: a.RemoteLeader},
		Role:    a.Role.String(),
	}

	var (
		conn *tcp.Conn
		peer *comm.Hello
		err  error
	)

	switch a.Role {
	case exchange.RoleCoarse:
		ln, lerr := tcp.Listen(cfg.Transport.Listen, tcpCfg)
		if lerr != nil {
			return nil, lerr
		}
		defer ln.Close()

		logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for fine leader")
		conn, peer, err = ln.Accept(ctx, hello)
	default:
		logger.Info().Str("addr", cfg.Transport.Connect).Msg("dialing coarse leader")
		conn, peer, err = tcp.Dial(ctx, cfg.Transport.Connect, hello, tcpCfg)
	}

	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("peer_role", peer.Role).
		Int("peer_rank", peer.Src).
		Msg("connected")

	return conn, nil
}

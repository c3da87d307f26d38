// Package config loads the run configuration of a gridexchange process.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/sarchlab/gridexchange/coupling"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/mesh"
)

const (
	EnvRank    = "GRIDEXCHANGE_RANK"
	EnvRole    = "GRIDEXCHANGE_ROLE"
	EnvListen  = "GRIDEXCHANGE_LISTEN"
	EnvConnect = "GRIDEXCHANGE_CONNECT"
	EnvCycles  = "GRIDEXCHANGE_CYCLES"
	EnvRecord  = "GRIDEXCHANGE_RECORD"
	EnvMonitor = "GRIDEXCHANGE_MONITOR_PORT"
)

// Timeouts bound the blocking operations of a run. Zero waits forever.
type Timeouts struct {
	Handshake time.Duration
	Exchange  time.Duration
}

// Transport tells how the two leaders reach each other. The coarse leader
// listens, the fine leader connects.
type Transport struct {
	Listen  string
	Connect string
}

// Side describes the solver of one side.
type Side struct {
	Box      mesh.Box
	Dims     [3]int
	Timestep float64
}

// Recording controls the trace database.
type Recording struct {
	Enabled bool
	Path    string
}

// Monitoring controls the HTTP monitor.
type Monitoring struct {
	Enabled     bool
	Port        int
	OpenBrowser bool
}

// Config is the configuration of one process of a run.
type Config struct {
	Rank      int
	Role      exchange.Role
	Layout    coupling.Layout
	Cycles    int
	Coarse    Side
	Fine      Side
	Interface mesh.Box
	Exchange  exchange.Options
	Transport Transport
	Timeouts  Timeouts
	Recording Recording
	Monitor   Monitoring
}

// Default returns a configuration for a two-rank run on the unit square with
// the fine side covering its center.
func Default() Config {
	iface := mesh.Box{
		Min: mesh.Point{0.25, 0.25, 0},
		Max: mesh.Point{0.75, 0.75, 0},
	}

	opts := exchange.DefaultOptions()
	opts.Interface = iface

	return Config{
		Layout: coupling.Layout{World: 2, Coarse: []int{0}, Fine: []int{1}},
		Cycles: 10,
		Coarse: Side{
			Box:      mesh.Box{Max: mesh.Point{1, 1, 0}},
			Dims:     [3]int{5, 5, 1},
			Timestep: 1.0,
		},
		Fine: Side{
			Box:      iface,
			Dims:     [3]int{9, 9, 1},
			Timestep: 0.15,
		},
		Interface: iface,
		Exchange:  opts,
		Transport: Transport{
			Listen:  "127.0.0.1:7400",
			Connect: "127.0.0.1:7400",
		},
		Timeouts: Timeouts{Handshake: 10 * time.Second},
		Recording: Recording{
			Path: "gridexchange",
		},
	}
}

type sideFile struct {
	Min      []float64 `toml:"min"`
	Max      []float64 `toml:"max"`
	Dims     []int     `toml:"dims"`
	Timestep float64   `toml:"timestep"`
}

type fileConfig struct {
	Rank   int    `toml:"rank"`
	Role   string `toml:"role"`
	Cycles int    `toml:"cycles"`

	Layout struct {
		World  int   `toml:"world"`
		Coarse []int `toml:"coarse"`
		Fine   []int `toml:"fine"`
	} `toml:"layout"`

	Coarse sideFile `toml:"coarse"`
	Fine   sideFile `toml:"fine"`

	Interface struct {
		Min []float64 `toml:"min"`
		Max []float64 `toml:"max"`
	} `toml:"interface"`

	Exchange struct {
		Field                 string  `toml:"field"`
		Tolerance             float64 `toml:"tolerance"`
		PushFieldOnCycleStart bool    `toml:"push_field_on_cycle_start"`
	} `toml:"exchange"`

	Transport struct {
		Listen  string `toml:"listen"`
		Connect string `toml:"connect"`
	} `toml:"transport"`

	Timeouts struct {
		Handshake string `toml:"handshake"`
		Exchange  string `toml:"exchange"`
	} `toml:"timeouts"`

	Recording struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"recording"`

	Monitor struct {
		Enabled     bool `toml:"enabled"`
		Port        int  `toml:"port"`
		OpenBrowser bool `toml:"open_browser"`
	} `toml:"monitor"`
}

// Load reads a TOML file on top of the defaults, loads a .env file from the
// working directory if there is one, applies GRIDEXCHANGE_* overrides, and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	var raw fileConfig

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load gridexchange config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load gridexchange config: unknown key %q",
			undecoded[0].String())
	}

	if meta.IsDefined("rank") {
		cfg.Rank = raw.Rank
	}

	if meta.IsDefined("role") {
		role, err := exchange.ParseRole(raw.Role)
		if err != nil {
			return err
		}
		cfg.Role = role
	}

	if meta.IsDefined("cycles") {
		cfg.Cycles = raw.Cycles
	}

	if meta.IsDefined("layout", "world") {
		cfg.Layout.World = raw.Layout.World
	}
	if meta.IsDefined("layout", "coarse") {
		cfg.Layout.Coarse = raw.Layout.Coarse
	}
	if meta.IsDefined("layout", "fine") {
		cfg.Layout.Fine = raw.Layout.Fine
	}

	if err := decodeSide(meta, "coarse", raw.Coarse, &cfg.Coarse); err != nil {
		return err
	}
	if err := decodeSide(meta, "fine", raw.Fine, &cfg.Fine); err != nil {
		return err
	}

	if err := decodePoint(meta, raw.Interface.Min, &cfg.Interface.Min,
		"interface", "min"); err != nil {
		return err
	}
	if err := decodePoint(meta, raw.Interface.Max, &cfg.Interface.Max,
		"interface", "max"); err != nil {
		return err
	}
	cfg.Exchange.Interface = cfg.Interface

	if meta.IsDefined("exchange", "field") {
		cfg.Exchange.Field = strings.TrimSpace(raw.Exchange.Field)
	}
	if meta.IsDefined("exchange", "tolerance") {
		cfg.Exchange.Tolerance = raw.Exchange.Tolerance
	}
	if meta.IsDefined("exchange", "push_field_on_cycle_start") {
		cfg.Exchange.PushFieldOnCycleStart = raw.Exchange.PushFieldOnCycleStart
	}

	if meta.IsDefined("transport", "listen") {
		cfg.Transport.Listen = strings.TrimSpace(raw.Transport.Listen)
	}
	if meta.IsDefined("transport", "connect") {
		cfg.Transport.Connect = strings.TrimSpace(raw.Transport.Connect)
	}

	if meta.IsDefined("timeouts", "handshake") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeouts.Handshake))
		if err != nil {
			return fmt.Errorf("parse timeouts.handshake: %w", err)
		}
		cfg.Timeouts.Handshake = d
	}
	if meta.IsDefined("timeouts", "exchange") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeouts.Exchange))
		if err != nil {
			return fmt.Errorf("parse timeouts.exchange: %w", err)
		}
		cfg.Timeouts.Exchange = d
	}

	if meta.IsDefined("recording", "enabled") {
		cfg.Recording.Enabled = raw.Recording.Enabled
	}
	if meta.IsDefined("recording", "path") {
		cfg.Recording.Path = strings.TrimSpace(raw.Recording.Path)
	}

	if meta.IsDefined("monitor", "enabled") {
		cfg.Monitor.Enabled = raw.Monitor.Enabled
	}
	if meta.IsDefined("monitor", "port") {
		cfg.Monitor.Port = raw.Monitor.Port
	}
	if meta.IsDefined("monitor", "open_browser") {
		cfg.Monitor.OpenBrowser = raw.Monitor.OpenBrowser
	}

	return nil
}

func decodeSide(meta toml.MetaData, name string, raw sideFile, side *Side) error {
	if err := decodePoint(meta, raw.Min, &side.Box.Min, name, "min"); err != nil {
		return err
	}
	if err := decodePoint(meta, raw.Max, &side.Box.Max, name, "max"); err != nil {
		return err
	}

	if meta.IsDefined(name, "dims") {
		if len(raw.Dims) != 3 {
			return fmt.Errorf("parse %s.dims: need 3 values, got %d", name, len(raw.Dims))
		}
		copy(side.Dims[:], raw.Dims)
	}

	if meta.IsDefined(name, "timestep") {
		side.Timestep = raw.Timestep
	}

	return nil
}

func decodePoint(meta toml.MetaData, raw []float64, p *mesh.Point, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}

	if len(raw) != 3 {
		return fmt.Errorf("parse %s: need 3 values, got %d",
			strings.Join(key, "."), len(raw))
	}

	copy(p[:], raw)

	return nil
}

// ApplyEnvOverrides lets GRIDEXCHANGE_* variables override cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v, ok := lookup(EnvRank); ok {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRank, err)
		}
		cfg.Rank = rank
	}

	if v, ok := lookup(EnvRole); ok {
		role, err := exchange.ParseRole(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRole, err)
		}
		cfg.Role = role
	}

	if v, ok := lookup(EnvListen); ok {
		cfg.Transport.Listen = v
	}

	if v, ok := lookup(EnvConnect); ok {
		cfg.Transport.Connect = v
	}

	if v, ok := lookup(EnvCycles); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvCycles, err)
		}
		cfg.Cycles = n
	}

	if v, ok := lookup(EnvRecord); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRecord, err)
		}
		cfg.Recording.Enabled = enabled
	}

	if v, ok := lookup(EnvMonitor); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMonitor, err)
		}
		cfg.Monitor.Enabled = true
		cfg.Monitor.Port = port
	}

	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Validate checks the configuration for values that can never work.
func (c Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return err
	}

	if c.Cycles <= 0 {
		return fmt.Errorf("config: cycles must be positive, got %d", c.Cycles)
	}

	for name, side := range map[string]Side{"coarse": c.Coarse, "fine": c.Fine} {
		if !(side.Timestep > 0) {
			return fmt.Errorf("config: %s timestep must be positive, got %v",
				name, side.Timestep)
		}

		if _, err := mesh.NewGrid(side.Box, side.Dims); err != nil {
			return fmt.Errorf("config: %s grid: %w", name, err)
		}
	}

	if c.Exchange.Tolerance < 0 {
		return fmt.Errorf("config: negative tolerance %v", c.Exchange.Tolerance)
	}

	if c.Timeouts.Handshake < 0 || c.Timeouts.Exchange < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("config: monitor port %d", c.Monitor.Port)
	}

	return nil
}

// SideOf returns the solver description of a role.
func (c Config) SideOf(r exchange.Role) Side {
	if r == exchange.RoleCoarse {
		return c.Coarse
	}

	return c.Fine
}

// Assignment resolves the role of the configured rank. A role given
// explicitly wins over the layout, which keeps two-process runs simple.
func (c Config) Assignment() (coupling.Assignment, error) {
	a, err := c.Layout.Resolve(c.Rank)
	if err != nil {
		return a, err
	}

	if c.Role == exchange.RoleNone || c.Role == a.Role {
		return a, nil
	}

	switch c.Role {
	case exchange.RoleCoarse:
		return c.Layout.Resolve(c.Layout.Coarse[0])
	default:
		return c.Layout.Resolve(c.Layout.Fine[0])
	}
}

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/control"
	"github.com/nyiyui/linkd/daemon"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/util"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BindingPath   string        `yaml:"bindingPath"`
	WordSize      int           `yaml:"wordSize"`
	SweepInterval util.Duration `yaml:"sweepInterval"`
	ControlSocket string        `yaml:"controlSocket"`
	Shm           ShmConfig     `yaml:"shm"`
	Notify        NotifyConfig  `yaml:"notify"`
	Apply         ApplyConfig   `yaml:"apply"`
	History       HistoryConfig `yaml:"history"`
	// MetricsAddr is where the status and metrics server listens. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr"`
}

type ShmConfig struct {
	// Backend is "sysv" or "file".
	Backend  string `yaml:"backend"`
	Key      int    `yaml:"key"`
	Path     string `yaml:"path"`
	LockPath string `yaml:"lockPath"`
	// RemoveOnExit removes the SysV segment at shutdown.
	RemoveOnExit bool `yaml:"removeOnExit"`
}

type NotifyConfig struct {
	// Method is "signal" or "datagram".
	Method  string `yaml:"method"`
	PIDFile string `yaml:"pidFile"`
	Signal  string `yaml:"signal"`
	Socket  string `yaml:"socket"`
}

type ApplyConfig struct {
	// Backend is "netlink" or "exec".
	Backend        string        `yaml:"backend"`
	RefreshCommand []string      `yaml:"refreshCommand"`
	BounceDelay    util.Duration `yaml:"bounceDelay"`
}

type HistoryConfig struct {
	// Path is the buntdb file; ":memory:" keeps history in memory.
	Path      string        `yaml:"path"`
	Retention util.Duration `yaml:"retention"`
}

func defaultConfig() Config {
	return Config{
		BindingPath:   binding.Path,
		WordSize:      binding.NativeLayout().WordSize,
		SweepInterval: util.Duration(daemon.DefaultSweepInterval),
		ControlSocket: control.DefaultPath,
		Shm: ShmConfig{
			Backend:      "sysv",
			Key:          0x4c4e4b44,
			Path:         "/dev/shm/linkd",
			LockPath:     "/run/linkd.shm.lock",
			RemoveOnExit: true,
		},
		Notify: NotifyConfig{
			Method:  "signal",
			PIDFile: "/var/run/vdcd.pid",
			Signal:  "SIGUSR1",
		},
		Apply: ApplyConfig{
			Backend:        "netlink",
			RefreshCommand: goal.DefaultRefreshCommand,
			BounceDelay:    util.Duration(goal.DefaultApplyOptions().BounceDelay),
		},
		History: HistoryConfig{
			Path:      ":memory:",
			Retention: util.Duration(24 * time.Hour),
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	var errs []error
	if err := (binding.Layout{WordSize: c.WordSize}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.SweepInterval < util.Duration(time.Second) {
		errs = append(errs, fmt.Errorf("sweepInterval must be at least 1s, not %s", time.Duration(c.SweepInterval)))
	}
	switch c.Shm.Backend {
	case "sysv", "file":
	default:
		errs = append(errs, fmt.Errorf("unknown shm backend %q", c.Shm.Backend))
	}
	switch c.Notify.Method {
	case "signal":
	case "datagram":
		if c.Notify.Socket == "" {
			errs = append(errs, errors.New("notify method datagram needs a socket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify method %q", c.Notify.Method))
	}
	switch c.Apply.Backend {
	case "netlink", "exec":
	default:
		errs = append(errs, fmt.Errorf("unknown apply backend %q", c.Apply.Backend))
	}
	return multierr.Combine(errs...)
}

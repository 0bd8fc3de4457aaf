package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"backtest-lab/internal/config"
	"backtest-lab/internal/logger"
)

// LoadConfig loads the .env file, the YAML file and BTLAB_* overrides, applies
// flag-level tweaks and validates the result.
func LoadConfig(path, envFile string, tweak func(*config.Config)) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// CommonFlags are the flags every binary accepts.
type CommonFlags struct {
	ConfigPath string
	EnvFile    string
	Stub       bool
	LogLevel   string
	// StderrLogs moves stdout logging to stderr so command output stays clean.
	StderrLogs bool
}

// Register adds the common flags to fs.
func (f *CommonFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to YAML config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Path to .env file")
	fs.BoolVar(&f.Stub, "stub", false, "Use the in-process stub gateway")
	fs.StringVar(&f.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

// Open loads configuration and wires the application.
func (f *CommonFlags) Open(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig(f.ConfigPath, f.EnvFile, func(c *config.Config) {
		if f.Stub {
			c.Gateway.Stub = true
		}
		if f.LogLevel != "" {
			c.Log.Level = f.LogLevel
		}
		if f.StderrLogs && c.Log.Output != "file" {
			c.Log.Output = "stderr"
		}
	})
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, log)
}

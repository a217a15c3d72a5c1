// Package config loads the engine's runtime configuration.
//
// Sources are layered: built-in defaults, then an optional YAML or CUE
// file checked against an embedded CUE schema, then MSGWEAVE_* environment
// variables. The CLI loads a .env file into the environment before any of
// this runs.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/adhocore/gronx"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/roach88/msgweave/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MSGWEAVE_"

// DefaultSweepCron runs the expiration sweep every minute.
const DefaultSweepCron = "* * * * *"

// Config is the effective configuration.
type Config struct {
	DatabasePath string `env:"DATABASE_PATH,overwrite"`
	LogLevel     string `env:"LOG_LEVEL,overwrite"`

	RetainWipedOutboundMessages bool          `env:"RETAIN_WIPED_OUTBOUND_MESSAGES,overwrite"`
	SortEpsilon                 float64       `env:"SORT_EPSILON,overwrite"`
	PendingTTL                  time.Duration `env:"PENDING_TTL,overwrite"`
	SweepCron                   string        `env:"SWEEP_CRON,overwrite"`
	TimeBasedRetention          time.Duration `env:"TIME_BASED_RETENTION,overwrite"`
	CountBasedRetention         int64         `env:"COUNT_BASED_RETENTION,overwrite"`
}

// fileConfig mirrors the on-disk layout. Durations stay strings until the
// schema accepted them.
type fileConfig struct {
	DatabasePath                *string  `json:"database_path,omitempty"`
	LogLevel                    *string  `json:"log_level,omitempty"`
	RetainWipedOutboundMessages *bool    `json:"retain_wiped_outbound_messages,omitempty"`
	SortEpsilon                 *float64 `json:"sort_epsilon,omitempty"`
	PendingTTL                  *string  `json:"pending_ttl,omitempty"`
	SweepCron                   *string  `json:"sweep_cron,omitempty"`
	TimeBasedRetention          *string  `json:"time_based_retention,omitempty"`
	CountBasedRetention         *int64   `json:"count_based_retention,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := engine.DefaultSettings()
	return Config{
		DatabasePath: "msgweave.db",
		LogLevel:     "info",
		SortEpsilon:  s.SortEpsilon,
		PendingTTL:   s.PendingTTL,
		SweepCron:    DefaultSweepCron,
	}
}

// Load builds the effective configuration from path (optional) and the
// process environment.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, env envconfig.Lookuper) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		fc, err := parseFile(path, data)
		if err != nil {
			return Config{}, err
		}
		if err := fc.applyTo(&cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &cfg, envconfig.PrefixLookuper(EnvPrefix, env)); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseFile decodes a YAML or CUE file and checks it against the schema.
func parseFile(path string, data []byte) (fileConfig, error) {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fileConfig{}, fmt.Errorf("compile config schema: %w", err)
	}

	var v cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		v = cctx.CompileBytes(data, cue.Filename(path))
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		v = cctx.Encode(raw)
	default:
		return fileConfig{}, fmt.Errorf("config %s: unsupported extension (want .yaml, .yml or .cue)", path)
	}
	if err := v.Err(); err != nil {
		return fileConfig{}, formatCUEError(path, err)
	}

	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fileConfig{}, formatCUEError(path, err)
	}

	var fc fileConfig
	if err := v.Decode(&fc); err != nil {
		return fileConfig{}, formatCUEError(path, err)
	}
	return fc, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("config %s: %w", path, err)
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("config %s: %s: %w", path, pos[0], first)
	}
	return fmt.Errorf("config %s: %w", path, first)
}

func (fc fileConfig) applyTo(cfg *Config) error {
	if fc.DatabasePath != nil {
		cfg.DatabasePath = *fc.DatabasePath
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.RetainWipedOutboundMessages != nil {
		cfg.RetainWipedOutboundMessages = *fc.RetainWipedOutboundMessages
	}
	if fc.SortEpsilon != nil {
		cfg.SortEpsilon = *fc.SortEpsilon
	}
	if fc.SweepCron != nil {
		cfg.SweepCron = *fc.SweepCron
	}
	if fc.CountBasedRetention != nil {
		cfg.CountBasedRetention = *fc.CountBasedRetention
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"pending_ttl", fc.PendingTTL, &cfg.PendingTTL},
		{"time_based_retention", fc.TimeBasedRetention, &cfg.TimeBasedRetention},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate rejects configurations the engine or scheduler cannot run with.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if !gronx.IsValid(c.SweepCron) {
		return fmt.Errorf("invalid sweep cron expression: %q", c.SweepCron)
	}
	if c.CountBasedRetention < 0 {
		return fmt.Errorf("count based retention must not be negative, got %d", c.CountBasedRetention)
	}
	return c.Settings().Validate()
}

// Settings returns the engine policies carried by c.
func (c Config) Settings() engine.Settings {
	return engine.Settings{
		RetainWipedOutboundMessages: c.RetainWipedOutboundMessages,
		SortEpsilon:                 c.SortEpsilon,
		PendingTTL:                  c.PendingTTL,
		TimeRetention:               c.TimeBasedRetention,
		CountRetention:              c.CountBasedRetention,
	}
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return l, nil
}

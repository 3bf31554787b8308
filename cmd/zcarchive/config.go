package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/rawbytedev/zcarchive/pkg/archive"
	"github.com/rawbytedev/zcarchive/pkg/archivefile"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// config is the resolved CLI configuration.
type config struct {
	Dedup       archive.Dedup
	Width       schema.Width
	Compression archivefile.Compression
	Jobs        int
	MaxDepth    int
	LogLevel    zerolog.Level
	LogPretty   bool
}

func defaultConfig() config {
	return config{
		Dedup:       archive.DedupDocument,
		Width:       schema.Width32,
		Compression: archivefile.CompressZstd,
		MaxDepth:    archive.DefaultMaxDepth,
		LogLevel:    zerolog.InfoLevel,
		LogPretty:   true,
	}
}

// zcarchive.toml key mapping.
type fileConfig struct {
	Build struct {
		Dedup       string `toml:"dedup"`
		Width       string `toml:"width"`
		Compression string `toml:"compression"`
	} `toml:"build"`
	Validate struct {
		Jobs     int `toml:"jobs"`
		MaxDepth int `toml:"max_depth"`
	} `toml:"validate"`
	Log struct {
		Level  string `toml:"level"`
		Pretty bool   `toml:"pretty"`
	} `toml:"log"`
}

// loadConfig overlays the TOML file at path onto the defaults. An empty
// path yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}
	if meta.IsDefined("build", "dedup") {
		if err := cfg.setDedup(raw.Build.Dedup); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if meta.IsDefined("build", "width") {
		if err := cfg.setWidth(raw.Build.Width); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if meta.IsDefined("build", "compression") {
		if err := cfg.setCompression(raw.Build.Compression); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if meta.IsDefined("validate", "jobs") {
		cfg.Jobs = raw.Validate.Jobs
	}
	if meta.IsDefined("validate", "max_depth") {
		if raw.Validate.MaxDepth <= 0 {
			return config{}, fmt.Errorf("load config: max_depth must be positive, got %d", raw.Validate.MaxDepth)
		}
		cfg.MaxDepth = raw.Validate.MaxDepth
	}
	if meta.IsDefined("log", "level") {
		if err := cfg.setLevel(raw.Log.Level); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if meta.IsDefined("log", "pretty") {
		cfg.LogPretty = raw.Log.Pretty
	}
	return cfg, nil
}

func (c *config) setDedup(s string) error {
	d, ok := archive.ParseDedup(strings.TrimSpace(s))
	if !ok {
		return fmt.Errorf("unknown dedup mode %q (expected off, document or batch)", s)
	}
	c.Dedup = d
	return nil
}

func (c *config) setWidth(s string) error {
	w, err := schema.ParseWidth(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	c.Width = w
	return nil
}

func (c *config) setCompression(s string) error {
	comp, err := archivefile.ParseCompression(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	c.Compression = comp
	return nil
}

func (c *config) setLevel(s string) error {
	l, err := zerolog.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	c.LogLevel = l
	return nil
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	config   string
	logLevel string
	logJSON  bool
	memProf  string
	cpuProf  string
	dedup    string
	width    string
	comp     string
	jobs     int
	maxDepth int
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.config, "config", "c", "", "TOML config file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&g.logJSON, "log-json", false, "write JSON log records instead of console output")
	fs.StringVar(&g.cpuProf, "cpuprofile", "", "write a CPU profile to this file")
	fs.StringVar(&g.memProf, "memprofile", "", "write a heap profile to this file on exit")
	fs.StringVar(&g.dedup, "dedup", "", "deduplication scope (off, document, batch)")
	fs.StringVar(&g.width, "width", "", "offset width in bits (16, 32, 64)")
	fs.StringVar(&g.comp, "compression", "", "frame compression (none, lz4, zstd)")
	fs.IntVarP(&g.jobs, "jobs", "j", 0, "parallel validations (0 uses GOMAXPROCS)")
	fs.IntVar(&g.maxDepth, "max-depth", 0, "maximum pointer depth accepted by the validator")
}

// resolve loads the config file and applies the flags that were set.
func (g *globalFlags) resolve(fs *pflag.FlagSet) (config, error) {
	cfg, err := loadConfig(g.config)
	if err != nil {
		return config{}, err
	}
	if fs.Changed("log-level") {
		if err := cfg.setLevel(g.logLevel); err != nil {
			return config{}, err
		}
	}
	if fs.Changed("log-json") {
		cfg.LogPretty = !g.logJSON
	}
	if fs.Changed("dedup") {
		if err := cfg.setDedup(g.dedup); err != nil {
			return config{}, err
		}
	}
	if fs.Changed("width") {
		if err := cfg.setWidth(g.width); err != nil {
			return config{}, err
		}
	}
	if fs.Changed("compression") {
		if err := cfg.setCompression(g.comp); err != nil {
			return config{}, err
		}
	}
	if fs.Changed("jobs") {
		cfg.Jobs = g.jobs
	}
	if fs.Changed("max-depth") {
		if g.maxDepth <= 0 {
			return config{}, fmt.Errorf("--max-depth must be positive, got %d", g.maxDepth)
		}
		cfg.MaxDepth = g.maxDepth
	}
	return cfg, nil
}

func newLogger(cfg config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(cfg.LogLevel).With().Timestamp().Str("app", "zcarchive").Logger()
}

// Package config manages YAML-based configuration and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tagfs/internal/facet"
	"tagfs/internal/logging"
	"tagfs/internal/state"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LogConfig selects log sinks
type LogConfig struct {
	Level   string `yaml:"level,omitempty"`
	File    string `yaml:"file,omitempty"`
	Journal bool   `yaml:"journal"`
}

// Config holds all configuration options for tagfs
type Config struct {
	Source      string `yaml:"source"`
	Mount       string `yaml:"mount"`
	State       string `yaml:"state,omitempty"`
	StateFormat string `yaml:"state_format"`

	Backups         int  `yaml:"backups"`
	CompressBackups bool `yaml:"compress_backups"`

	Decoration    facet.Decoration `yaml:"decoration"`
	RootAlias     string           `yaml:"root_alias"`
	UntaggedDir   string           `yaml:"untagged_dir"`
	ShowEmptyTags bool             `yaml:"show_empty_tags"`

	PruneEmptyTags bool `yaml:"prune_empty_tags"`
	AllowMerge     bool `yaml:"allow_merge"`

	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	AllowOther bool      `yaml:"allow_other"`
	Log        LogConfig `yaml:"log"`

	// Internal: path of the config file that was loaded
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	view := facet.DefaultOptions()
	return &Config{
		StateFormat:     string(state.FormatJSON),
		Backups:         5,
		CompressBackups: true,
		Decoration:      view.Decoration,
		RootAlias:       view.RootAlias,
		UntaggedDir:     view.UntaggedDir,
		PruneEmptyTags:  true,
		AllowMerge:      true,
		Watch:           true,
		WatchDebounce:   500 * time.Millisecond,
	}
}

// GetConfigDir returns the config directory path
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tagfs"
	}
	return filepath.Join(home, ".config", "tagfs")
}

// GetConfigPath returns the full path to the default config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load builds the configuration from defaults, the config file and the
// command line, in that order of precedence. It returns pflag.ErrHelp when
// help was requested.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	flagSet, f := newFlagSet()
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	// Determine config file path
	cfgPath := *f.configFile
	if cfgPath == "" {
		if _, err := os.Stat(GetConfigPath()); err == nil {
			cfgPath = GetConfigPath()
		}
	}

	if cfgPath != "" {
		if err := cfg.loadFromFile(cfgPath); err != nil {
			// A missing default file is fine; an explicit one must load
			if *f.configFile != "" || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
		cfg.configPath = cfgPath
	}

	// Command line flags override config file (only if explicitly set)
	if flagSet.Changed("source") {
		cfg.Source = *f.source
	}
	if flagSet.Changed("mount") {
		cfg.Mount = *f.mount
	}
	if flagSet.Changed("state") {
		cfg.State = *f.statePath
	}
	if flagSet.Changed("state-format") {
		cfg.StateFormat = *f.stateFormat
	}
	if flagSet.Changed("watch") {
		cfg.Watch = *f.watch
	}
	if flagSet.Changed("allow-other") {
		cfg.AllowOther = *f.allowOther
	}
	if *f.verbose {
		cfg.Log.Level = logging.LevelDebug.String()
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flags holds the command line values before they are merged into a Config.
type flags struct {
	configFile  *string
	source      *string
	mount       *string
	statePath   *string
	stateFormat *string
	verbose     *bool
	watch       *bool
	allowOther  *bool
}

func newFlagSet() (*pflag.FlagSet, *flags) {
	flagSet := pflag.NewFlagSet("tagfs", pflag.ContinueOnError)
	f := &flags{
		configFile:  flagSet.String("config", "", "configuration file path (default: ~/.config/tagfs/config.yaml)"),
		source:      flagSet.String("source", "", "directory holding the real files"),
		mount:       flagSet.String("mount", "", "mount point for the tag view"),
		statePath:   flagSet.String("state", "", "tag state file (default: <source>/.tagfs/state.<format>)"),
		stateFormat: flagSet.String("state-format", "", "state file encoding: json or cbor"),
		verbose:     flagSet.BoolP("verbose", "v", false, "enable debug logging"),
		watch:       flagSet.Bool("watch", true, "re-index the source directory when it changes"),
		allowOther:  flagSet.Bool("allow-other", false, "let other users access the mount"),
	}
	return flagSet, f
}

// Usage renders the flag help text.
func Usage() string {
	flagSet, _ := newFlagSet()
	return "Usage: tagfs --source DIR --mount DIR [flags]\n\n" + flagSet.FlagUsages()
}

// resolvePaths makes paths absolute and fills in the default state path.
func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.Source, &c.Mount, &c.State, &c.Log.File} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = filepath.Clean(abs)
		}
	}

	if c.State == "" && c.Source != "" {
		format := c.StateFormat
		if format == "" {
			format = string(state.FormatJSON)
		}
		c.State = filepath.Join(c.Source, ".tagfs", "state."+format)
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can be used to mount
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("source directory is required")
	}
	if c.Mount == "" {
		return errors.New("mount point is required")
	}
	if c.Source == c.Mount {
		return errors.New("source directory and mount point must differ")
	}

	info, err := os.Stat(c.Source)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", c.Source)
	}

	if _, err := state.ParseFormat(c.StateFormat); err != nil {
		return err
	}
	if c.Backups < 0 {
		return fmt.Errorf("backups must not be negative, got %d", c.Backups)
	}
	if c.RootAlias != "" && c.RootAlias == c.UntaggedDir {
		return fmt.Errorf("root_alias and untagged_dir must differ, both are %q", c.RootAlias)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("watch_debounce must not be negative, got %v", c.WatchDebounce)
	}
	if c.Log.Level != "" {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	return nil
}

// ViewOptions returns the naming and visibility settings of the tag view
func (c *Config) ViewOptions() facet.Options {
	return facet.Options{
		Decoration:    c.Decoration,
		RootAlias:     c.RootAlias,
		UntaggedDir:   c.UntaggedDir,
		ShowEmptyTags: c.ShowEmptyTags,
	}
}

// StateOptions returns the persistence settings
func (c *Config) StateOptions() state.Options {
	return state.Options{
		Format:          state.Format(c.StateFormat),
		BackupCount:     c.Backups,
		CompressBackups: c.CompressBackups,
	}
}

// ApplyLogLevel sets the level of l when the config file or --verbose chose
// one. Otherwise l keeps the level taken from LOG_LEVEL or FUSE_DEBUG.
func (c *Config) ApplyLogLevel(l *logging.Logger) error {
	if c.Log.Level == "" {
		return nil
	}
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	return nil
}

// LogOptions returns the log sink settings
func (c *Config) LogOptions() logging.Options {
	return logging.Options{File: c.Log.File, Journal: c.Log.Journal}
}

// GetConfigFilePath returns the path of the loaded config file, if any
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}

// Package config resolves CLI settings. Sources are applied in order, each
// overriding the previous one: built-in defaults, the YAML config file,
// INGRESSO_* environment variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ingresso-cascade-cli/authguard"
	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/seats"
	"ingresso-cascade-cli/store"
)

const fileName = "config.yaml"

type Config struct {
	City                 string        `yaml:"city"`
	Token                string        `yaml:"token"`
	AuthDebounce         time.Duration `yaml:"auth_debounce"`
	ManualStages         []string      `yaml:"manual_stages"`
	SortVenuesByDistance bool          `yaml:"sort_venues_by_distance"`
	LockedStatuses       []int         `yaml:"locked_statuses"`
	LogFile              string        `yaml:"log_file"`
	LogLevel             string        `yaml:"log_level"`
	APIURL               string        `yaml:"api_url"`
	CheckoutURL          string        `yaml:"checkout_url"`

	// Set from flags only.
	ConfigFile  string `yaml:"-"`
	Once        bool   `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		AuthDebounce:   authguard.DefaultWindow,
		LockedStatuses: []int{seats.RawLocked},
		LogLevel:       "info",
	}
}

// Flags holds the values of the flags added by RegisterFlags.
type Flags struct {
	set    *pflag.FlagSet
	values Config
}

// RegisterFlags adds the configuration flags to set. Call Resolve once set
// has been parsed.
func RegisterFlags(set *pflag.FlagSet) *Flags {
	f := &Flags{set: set}
	v := &f.values
	set.StringVar(&v.ConfigFile, "config", "", "path to the YAML config file")
	set.StringVar(&v.City, "city", "", "start from this city name")
	set.StringVar(&v.Token, "token", "", "session token sent to the checkout API")
	set.DurationVar(&v.AuthDebounce, "auth-debounce", 0, "window in which repeated session-expiry signals are merged")
	set.StringSliceVar(&v.ManualStages, "manual", nil, "stages that never auto-advance (city,venue,item,date,session)")
	set.BoolVar(&v.SortVenuesByDistance, "sort-by-distance", false, "order venues by distance from your IP location")
	set.IntSliceVar(&v.LockedStatuses, "locked-status", nil, "raw seat status codes that mean locked")
	set.StringVar(&v.LogFile, "log-file", "", "write logs to this file")
	set.StringVar(&v.LogLevel, "log-level", "", "debug, info, warn or error")
	set.StringVar(&v.APIURL, "api-url", "", "content API root")
	set.StringVar(&v.CheckoutURL, "checkout-url", "", "checkout API root")
	set.BoolVar(&v.Once, "once", false, "run the cascade headless with auto-advance and print the seat map")
	set.BoolVarP(&v.ShowVersion, "version", "v", false, "print version and exit")
	set.SortFlags = false
	return f
}

// Resolve layers the defaults, the config file, the environment and the
// flags that were set on the command line.
func (f *Flags) Resolve(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	flags, flagValues := f.set, f.values

	cfg := Default()

	path := flagValues.ConfigFile
	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(getenv("INGRESSO_CONFIG"))
		explicit = path != ""
	}
	if !explicit {
		dir, err := store.ConfigDir()
		if err == nil {
			path = filepath.Join(dir, fileName)
		}
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else {
			cfg.ConfigFile = path
		}
	}

	applyEnv(&cfg, getenv)

	if flags.Changed("city") {
		cfg.City = flagValues.City
	}
	if flags.Changed("token") {
		cfg.Token = flagValues.Token
	}
	if flags.Changed("auth-debounce") {
		cfg.AuthDebounce = flagValues.AuthDebounce
	}
	if flags.Changed("manual") {
		cfg.ManualStages = flagValues.ManualStages
	}
	if flags.Changed("sort-by-distance") {
		cfg.SortVenuesByDistance = flagValues.SortVenuesByDistance
	}
	if flags.Changed("locked-status") {
		cfg.LockedStatuses = flagValues.LockedStatuses
	}
	if flags.Changed("log-file") {
		cfg.LogFile = flagValues.LogFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagValues.LogLevel
	}
	if flags.Changed("api-url") {
		cfg.APIURL = flagValues.APIURL
	}
	if flags.Changed("checkout-url") {
		cfg.CheckoutURL = flagValues.CheckoutURL
	}
	cfg.Once = flagValues.Once
	cfg.ShowVersion = flagValues.ShowVersion

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("INGRESSO_CITY")); v != "" {
		cfg.City = v
	}
	if v := strings.TrimSpace(getenv("INGRESSO_TOKEN")); v != "" {
		cfg.Token = v
	}
	if v := strings.TrimSpace(getenv("INGRESSO_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks values the flag and YAML parsers cannot.
func (c Config) Validate() error {
	if c.AuthDebounce < 0 {
		return fmt.Errorf("auth_debounce must not be negative, got %s", c.AuthDebounce)
	}
	if _, err := c.Stages(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Stages parses ManualStages.
func (c Config) Stages() ([]cascade.Stage, error) {
	stages := make([]cascade.Stage, 0, len(c.ManualStages))
	for _, name := range c.ManualStages {
		if strings.TrimSpace(name) == "" {
			continue
		}
		stage, err := cascade.ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("manual_stages: %w", err)
		}
		if stage == cascade.StageSeatMap {
			return nil, errors.New("manual_stages: seatmap has no options to pick")
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	name := strings.TrimSpace(c.LogLevel)
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// LockPolicy returns the seat lock policy for LockedStatuses. An empty list
// disables the locked refinement.
func (c Config) LockPolicy() seats.LockPolicy {
	return seats.LockedCodes(c.LockedStatuses...)
}

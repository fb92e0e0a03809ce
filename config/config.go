package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRounds     = 10
	DefaultDrainGrace = 2 * time.Second
	DefaultCrashQueue = "stdinfuzz_crashes"
)

// DefaultFilters removes the libc warning printed by targets that call gets().
var DefaultFilters = []string{
	`warning: this program uses gets\(\), which is unsafe\.`,
}

type AppConfig struct {
	Command      string // program to fuzz, relative to WorkDir
	WorkDir      string
	LogLevel     string
	ServiceName  string
	Campaign     CampaignConfig
	Harness      HarnessConfig
	CrashDir     string // empty disables reproducer files
	RabbitMQURL  string // empty disables crash notifications
	CrashQueue   string
	OTLPEndpoint string // empty disables telemetry
	Watch        bool
}

type CampaignConfig struct {
	Rounds     int
	SeedFile   string
	InlineSeed string  // seed given directly in the campaign file
	RandSeed   *uint64 // nil means an unseeded generator
}

type HarnessConfig struct {
	ExecTimeout time.Duration // 0 disables the per-execution timeout
	DrainGrace  time.Duration
	Filters     []string
}

// Overrides carries values given on the command line. Zero values and nil
// pointers leave the lower layers untouched.
type Overrides struct {
	Command    string
	ConfigFile string
	SeedFile   string
	WorkDir    string
	LogLevel   string
	CrashDir   string
	Rounds     *int
	Timeout    *time.Duration
	RandSeed   *uint64
	Filters    []string
	Watch      bool
}

// CampaignFile is the YAML campaign description.
type CampaignFile struct {
	Seed     string   `yaml:"seed"`
	SeedFile string   `yaml:"seed_file"`
	Rounds   int      `yaml:"rounds"`
	Filters  []string `yaml:"filters"`
	Timeout  string   `yaml:"timeout"`
	RandSeed *uint64  `yaml:"rand_seed"`
}

// LoadConfig layers defaults, the campaign file, the environment (.env
// included) and command line overrides, in that order.
func LoadConfig(o Overrides) (*AppConfig, error) {
	godotenv.Load()

	config := &AppConfig{
		WorkDir:     "./",
		LogLevel:    "info",
		ServiceName: "stdinfuzz",
		CrashQueue:  DefaultCrashQueue,
		Campaign: CampaignConfig{
			Rounds: DefaultRounds,
		},
		Harness: HarnessConfig{
			DrainGrace: DefaultDrainGrace,
			Filters:    append([]string(nil), DefaultFilters...),
		},
	}

	configFile := o.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("FUZZ_CONFIG")
	}
	if configFile != "" {
		if err := config.applyCampaignFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyOverrides(o)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *AppConfig) applyCampaignFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read campaign file: %w", err)
	}

	var file CampaignFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("failed to parse campaign file %s: %w", path, err)
	}

	if file.Seed != "" {
		c.Campaign.InlineSeed = file.Seed
	}
	if file.SeedFile != "" {
		// relative seed files are looked up next to the campaign file
		if !filepath.IsAbs(file.SeedFile) {
			file.SeedFile = filepath.Join(filepath.Dir(path), file.SeedFile)
		}
		c.Campaign.SeedFile = file.SeedFile
	}
	if file.Rounds != 0 {
		c.Campaign.Rounds = file.Rounds
	}
	if file.Filters != nil {
		c.Harness.Filters = file.Filters
	}
	if file.Timeout != "" {
		d, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout in campaign file: %w", err)
		}
		c.Harness.ExecTimeout = d
	}
	if file.RandSeed != nil {
		c.Campaign.RandSeed = file.RandSeed
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	var err error

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ServiceName, "SERVICE_NAME")
	setString(&c.WorkDir, "FUZZ_WORKDIR")
	setString(&c.Campaign.SeedFile, "FUZZ_SEED_FILE")
	setString(&c.CrashDir, "CRASH_DIR")
	setString(&c.RabbitMQURL, "RABBITMQ_URL")
	setString(&c.CrashQueue, "CRASH_QUEUE")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if c.Campaign.Rounds, err = parseInt("FUZZ_ROUNDS", c.Campaign.Rounds); err != nil {
		return err
	}
	if c.Harness.ExecTimeout, err = parseDuration("FUZZ_EXEC_TIMEOUT", c.Harness.ExecTimeout); err != nil {
		return err
	}
	if c.Harness.DrainGrace, err = parseDuration("FUZZ_DRAIN_GRACE", c.Harness.DrainGrace); err != nil {
		return err
	}
	if val := os.Getenv("FUZZ_FILTERS"); val != "" {
		c.Harness.Filters = splitLines(val)
	}
	if val := os.Getenv("FUZZ_RAND_SEED"); val != "" {
		seed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid FUZZ_RAND_SEED %q: %w", val, err)
		}
		c.Campaign.RandSeed = &seed
	}
	return nil
}

func (c *AppConfig) applyOverrides(o Overrides) {
	if o.Command != "" {
		c.Command = o.Command
	}
	if o.SeedFile != "" {
		c.Campaign.SeedFile = o.SeedFile
	}
	if o.WorkDir != "" {
		c.WorkDir = o.WorkDir
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.CrashDir != "" {
		c.CrashDir = o.CrashDir
	}
	if o.Rounds != nil {
		c.Campaign.Rounds = *o.Rounds
	}
	if o.Timeout != nil {
		c.Harness.ExecTimeout = *o.Timeout
	}
	if o.RandSeed != nil {
		c.Campaign.RandSeed = o.RandSeed
	}
	if o.Filters != nil {
		c.Harness.Filters = o.Filters
	}
	if o.Watch {
		c.Watch = true
	}
}

func (c *AppConfig) validate() error {
	if c.Command == "" {
		return errors.New("no command to fuzz")
	}
	if c.Campaign.Rounds < 1 {
		return fmt.Errorf("rounds must be positive, got %d", c.Campaign.Rounds)
	}
	if c.Harness.ExecTimeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Harness.ExecTimeout)
	}
	if c.Harness.DrainGrace <= 0 {
		c.Harness.DrainGrace = DefaultDrainGrace
	}
	if c.CrashQueue == "" {
		c.CrashQueue = DefaultCrashQueue
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func parseDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}

func parseInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return i, nil
}

func splitLines(val string) []string {
	var out []string
	for _, line := range strings.Split(val, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

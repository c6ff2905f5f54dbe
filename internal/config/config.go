package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings. Transport, HTTP and logging settings
// come from environment variables; runner and NWP settings come from the
// YAML file named by PPS_CONFIG_FILE.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	ConfigFile string

	Runner RunnerConfig
	NWP    NWPConfig
}

// Script names an external program and its fixed flags.
type Script struct {
	Name  string   `yaml:"name"`
	Flags []string `yaml:"flags"`
}

// RunnerConfig controls scene assembly, dispatch and result collection.
type RunnerConfig struct {
	NumberOfThreads      int    `yaml:"number_of_threads"`
	MaxProcessingMinutes int    `yaml:"maximum_pps_processing_time_in_minutes"`
	ServerName           string `yaml:"servername"`
	Station              string `yaml:"station"`
	Environment          string `yaml:"environment"`

	Python        string `yaml:"python"`
	RunAllScript  Script `yaml:"run_all_script"`
	RunCMAProb    bool   `yaml:"run_cmask_prob"`
	CMAProbScript Script `yaml:"run_cmaprob_script"`

	OutputDir               string `yaml:"pps_outdir"`
	StatisticsDir           string `yaml:"pps_statistics_dir"`
	StatisticsWindowMinutes int    `yaml:"pps_filetime_search_minutes"`
	ResultMaxAgeMinutes     int    `yaml:"result_max_age_minutes"`
	MatchStartTime          bool   `yaml:"match_start_time"`

	GranuleProcessing bool   `yaml:"sdr_granule_processing"`
	EARSVariant       string `yaml:"ears_stream_name"`
	LocalityCacheSize int    `yaml:"locality_cache_size"`
	ArchiveURL        string `yaml:"archive_url"`
	PrepareNWP        bool   `yaml:"prepare_nwp_before_run"`

	PendingSceneTTLMinutes int `yaml:"pending_scene_ttl_minutes"`
}

// MaxProcessingTime is the wall-clock limit for one external program run.
func (r RunnerConfig) MaxProcessingTime() time.Duration {
	return time.Duration(r.MaxProcessingMinutes) * time.Minute
}

// ResultMaxAge is the freshness threshold for discovered result files.
func (r RunnerConfig) ResultMaxAge() time.Duration {
	return time.Duration(r.ResultMaxAgeMinutes) * time.Minute
}

// StatisticsWindow is how far a statistics file start may be from the scene start.
func (r RunnerConfig) StatisticsWindow() time.Duration {
	return time.Duration(r.StatisticsWindowMinutes) * time.Minute
}

// PendingSceneTTL is how long an incomplete scene waits for its remaining
// files; zero waits forever.
func (r RunnerConfig) PendingSceneTTL() time.Duration {
	return time.Duration(r.PendingSceneTTLMinutes) * time.Minute
}

// Validate checks the settings the scene runner cannot start without.
func (r RunnerConfig) Validate() error {
	if r.RunAllScript.Name == "" {
		return errors.New("runner.run_all_script.name is required")
	}
	if r.RunCMAProb && r.CMAProbScript.Name == "" {
		return errors.New("runner.run_cmaprob_script.name is required when run_cmask_prob is set")
	}
	if r.OutputDir == "" {
		return errors.New("runner.pps_outdir is required")
	}
	return nil
}

// NWP file naming conventions.
const (
	NamingStep         = "step"
	NamingForecastTime = "forecast_time"
)

// NWPConfig controls the NWP preparation pipeline.
type NWPConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`

	InputDir         string `yaml:"input_dir"`
	InputPrefix      string `yaml:"input_prefix"`
	CompanionDir     string `yaml:"companion_dir"`
	CompanionPrefix  string `yaml:"companion_prefix"`
	OutputDir        string `yaml:"output_dir"`
	OutputPrefix     string `yaml:"output_prefix"`
	StaticSurface    string `yaml:"static_surface"`
	RequirementsFile string `yaml:"requirements_file"`
	Naming           string `yaml:"naming"`
	ForecastLengths  []int  `yaml:"forecast_lengths"`
	CutoffHours      int    `yaml:"cutoff_hours"`

	GribCopy   string `yaml:"grib_copy"`
	GribGet    string `yaml:"grib_get"`
	GribFilter string `yaml:"grib_filter"`

	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
}

// Interval is the period of scheduled runs inside the service; zero disables them.
func (n NWPConfig) Interval() time.Duration {
	return time.Duration(n.IntervalMinutes) * time.Minute
}

// Cutoff is how far back analysis times are still prepared.
func (n NWPConfig) Cutoff() time.Duration {
	return time.Duration(n.CutoffHours) * time.Hour
}

// LockTimeout bounds how long a run waits for another run's output lock.
func (n NWPConfig) LockTimeout() time.Duration {
	return time.Duration(n.LockTimeoutSeconds) * time.Second
}

// Validate checks the settings the NWP pipeline cannot run without.
func (n NWPConfig) Validate() error {
	required := []struct{ key, value string }{
		{"nwp.input_dir", n.InputDir},
		{"nwp.input_prefix", n.InputPrefix},
		{"nwp.companion_dir", n.CompanionDir},
		{"nwp.companion_prefix", n.CompanionPrefix},
		{"nwp.output_dir", n.OutputDir},
		{"nwp.output_prefix", n.OutputPrefix},
		{"nwp.static_surface", n.StaticSurface},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if n.Naming != NamingStep && n.Naming != NamingForecastTime {
		return fmt.Errorf("nwp.naming must be %q or %q, got %q", NamingStep, NamingForecastTime, n.Naming)
	}
	return nil
}

// Load reads configuration from environment variables and the optional YAML
// file, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "pps-level1-notifications"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "pps-level2-notifications"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "pps-runner"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		ConfigFile:       os.Getenv("PPS_CONFIG_FILE"),
		Runner:           defaultRunner(),
		NWP:              defaultNWP(),
	}

	if cfg.ConfigFile != "" {
		if err := loadFile(cfg.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.Runner.NumberOfThreads < 1 {
		return nil, errors.New("runner.number_of_threads must be at least 1")
	}
	if cfg.Runner.MaxProcessingMinutes <= 0 {
		return nil, errors.New("runner.maximum_pps_processing_time_in_minutes must be positive")
	}

	return cfg, nil
}

func defaultRunner() RunnerConfig {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return RunnerConfig{
		NumberOfThreads:         5,
		MaxProcessingMinutes:    20,
		ServerName:              host,
		Station:                 "unknown",
		Environment:             "unknown",
		StatisticsWindowMinutes: 1,
		ResultMaxAgeMinutes:     90,
		GranuleProcessing:       true,
		EARSVariant:             "EARS",
		LocalityCacheSize:       256,
		PendingSceneTTLMinutes:  120,
	}
}

func defaultNWP() NWPConfig {
	return NWPConfig{
		Naming:             NamingStep,
		ForecastLengths:    []int{3, 6, 9, 12, 15, 18, 21, 24},
		CutoffHours:        24,
		GribCopy:           "grib_copy",
		GribGet:            "grib_get",
		GribFilter:         "grib_filter",
		LockTimeoutSeconds: 600,
	}
}

// fileConfig mirrors the YAML document layout.
type fileConfig struct {
	Runner *RunnerConfig `yaml:"runner"`
	NWP    *NWPConfig    `yaml:"nwp"`
}

// loadFile decodes the YAML file over the defaults already in cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	doc := fileConfig{Runner: &cfg.Runner, NWP: &cfg.NWP}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if s := os.Getenv("PPS_NUMBER_OF_THREADS"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return errors.New("invalid PPS_NUMBER_OF_THREADS")
		}
		cfg.Runner.NumberOfThreads = n
	}
	if s := os.Getenv("PPS_OUTPUT_DIR"); s != "" {
		cfg.Runner.OutputDir = s
	}
	return nil
}

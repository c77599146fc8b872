package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"fraud-scoring/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port           int
	DataPath       string
	MaxUploadBytes int64
	LabelColumn    string
	TrainingSeed   int64
	Trees          int
	TestRatio      float64
	TrainWorkers   int
	LogLevel       string
	LogPretty      bool
	ServiceURL     string
	RemoteScoring  bool
	RequestTimeout time.Duration
	Fusion         FusionSettings
}

type ConfigFile struct {
	Server struct {
		Port           int    `yaml:"port"`
		DataPath       string `yaml:"dataPath"`
		MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	} `yaml:"server"`

	Training struct {
		LabelColumn string  `yaml:"labelColumn"`
		Seed        int64   `yaml:"seed"`
		Trees       int     `yaml:"trees"`
		TestRatio   float64 `yaml:"testRatio"`
		Workers     int     `yaml:"workers"`
	} `yaml:"training"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Client struct {
		ServiceURL    string `yaml:"serviceURL"`
		Timeout       string `yaml:"timeout"`
		RemoteScoring bool   `yaml:"remoteScoring"`
	} `yaml:"client"`

	Fusion FusionSettings `yaml:"fusion"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE
// (with environment overrides) or, when unset, the environment alone.
func Load() (Settings, error) {
	if err := loadDotEnv(); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

// loadDotEnv populates the process environment from DOTENV_FILE or ./.env.
// Variables already set in the environment win.
func loadDotEnv() error {
	path := os.Getenv(common.EnvDotEnvFile)
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	timeout, err := time.ParseDuration(config.Client.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}

	fusion := config.Fusion.withDefaults()
	if env := os.Getenv(common.EnvFusionTenants); env != "" {
		fusion.Tenants = splitList(env)
	}
	fusion.Strategy = getEnvOrDefault(common.EnvFusionStrategy, fusion.Strategy)
	fusion.EnableERS = getBoolFromEnvOrConfig(common.EnvFusionEnableERS, fusion.EnableERS)
	fusion.BatchLimit = getIntFromEnvOrConfig(common.EnvFusionBatchMax, fusion.BatchLimit, common.DefaultBatchLimit)

	settings := Settings{
		Port:           getIntFromEnvOrConfig(common.EnvListenPort, config.Server.Port, common.DefaultListenPort),
		DataPath:       getEnvOrDefault(common.EnvDataPath, orDefault(config.Server.DataPath, common.DefaultDataPath)),
		MaxUploadBytes: int64(getIntFromEnvOrConfig(common.EnvMaxUploadBytes, int(config.Server.MaxUploadBytes), common.DefaultMaxUploadBytes)),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, orDefault(config.Training.LabelColumn, common.DefaultLabelColumn)),
		TrainingSeed:   int64(getIntFromEnvOrConfig(common.EnvTrainingSeed, int(config.Training.Seed), common.DefaultTrainingSeed)),
		Trees:          getIntFromEnvOrConfig(common.EnvTrainingTrees, config.Training.Trees, common.DefaultTrainingTrees),
		TestRatio:      getFloatFromEnvOrConfig(common.EnvTestRatio, config.Training.TestRatio, common.DefaultTestRatio),
		TrainWorkers:   getIntFromEnvOrConfig(common.EnvTrainWorkers, config.Training.Workers, common.DefaultTrainWorkers),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogPretty:      getBoolFromEnvOrConfig(common.EnvLogPretty, config.Logging.Pretty),
		ServiceURL:     getEnvOrDefault(common.EnvServiceURL, orDefault(config.Client.ServiceURL, common.DefaultServiceURL)),
		RemoteScoring:  getBoolFromEnvOrConfig(common.EnvRemoteScoring, config.Client.RemoteScoring),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, timeout),
		Fusion:         fusion,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Port:           getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		MaxUploadBytes: int64(getIntOrDefault(common.EnvMaxUploadBytes, common.DefaultMaxUploadBytes)),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, common.DefaultLabelColumn),
		TrainingSeed:   int64(getIntOrDefault(common.EnvTrainingSeed, common.DefaultTrainingSeed)),
		Trees:          getIntOrDefault(common.EnvTrainingTrees, common.DefaultTrainingTrees),
		TestRatio:      getFloatOrDefault(common.EnvTestRatio, common.DefaultTestRatio),
		TrainWorkers:   getIntOrDefault(common.EnvTrainWorkers, common.DefaultTrainWorkers),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogPretty:      getBoolOrDefault(common.EnvLogPretty, false),
		ServiceURL:     getEnvOrDefault(common.EnvServiceURL, common.DefaultServiceURL),
		RemoteScoring:  getBoolOrDefault(common.EnvRemoteScoring, false),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 30*time.Second),
		Fusion: FusionSettings{
			Tenants:      splitList(os.Getenv(common.EnvFusionTenants)),
			Strategy:     getEnvOrDefault(common.EnvFusionStrategy, common.StrategyPerformance),
			EnableERS:    getBoolOrDefault(common.EnvFusionEnableERS, true),
			ERSThreshold: [2]float64{common.DefaultERSLow, common.DefaultERSHigh},
			BatchLimit:   getIntOrDefault(common.EnvFusionBatchMax, common.DefaultBatchLimit),
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Port < common.MinListenPort || settings.Port > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.Port)
	}
	if strings.TrimSpace(settings.DataPath) == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", settings.MaxUploadBytes)
	}

	if strings.TrimSpace(settings.LabelColumn) == "" {
		return fmt.Errorf("label column cannot be empty")
	}
	if settings.Trees < common.MinTrees || settings.Trees > common.MaxTrees {
		return fmt.Errorf("tree count must be between %d and %d, got %d", common.MinTrees, common.MaxTrees, settings.Trees)
	}
	if settings.TestRatio < common.MinTestRatio || settings.TestRatio > common.MaxTestRatio {
		return fmt.Errorf("test ratio must be between %.2f and %.2f, got %f", common.MinTestRatio, common.MaxTestRatio, settings.TestRatio)
	}
	if settings.TrainWorkers < 1 || settings.TrainWorkers > common.MaxTrainWorker {
		return fmt.Errorf("train workers must be between 1 and %d, got %d", common.MaxTrainWorker, settings.TrainWorkers)
	}

	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 10*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 10m, got %v", settings.RequestTimeout)
	}
	if settings.ServiceURL == "" {
		return fmt.Errorf("service URL cannot be empty")
	}

	if err := settings.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}

	return nil
}

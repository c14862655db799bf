package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/ml"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelsDir           string
	TreeModelPath       string
	TreeThresholdPath   string
	TreeFeaturesPath    string
	LinearModelPath     string
	LinearThresholdPath string
	LinearFeaturesPath  string
	ScalerPath          string
	ArtifactCacheDir    string
	ArtifactTimeout     time.Duration

	PythonPath    string
	BridgeTimeout time.Duration

	DataPath    string
	ResultsFile string

	ListenPort int
	LogLevel   string

	DefaultLinearThreshold float64
	LinearTopN             int
	TreeTopN               int
	SupportingTopN         int
	TieTolerance           float64
}

type ConfigFile struct {
	Models struct {
		Dir string `yaml:"dir"`

		Tree struct {
			Model     string `yaml:"model"`
			Threshold string `yaml:"threshold"`
			Features  string `yaml:"features"`
		} `yaml:"tree"`

		Linear struct {
			Model            string  `yaml:"model"`
			Threshold        string  `yaml:"threshold"`
			Features         string  `yaml:"features"`
			DefaultThreshold float64 `yaml:"defaultThreshold"`
		} `yaml:"linear"`

		Scaler          string `yaml:"scaler"`
		CacheDir        string `yaml:"cacheDir"`
		DownloadTimeout string `yaml:"downloadTimeout"`
	} `yaml:"models"`

	Bridge struct {
		Python  string `yaml:"python"`
		Timeout string `yaml:"timeout"`
	} `yaml:"bridge"`

	Data struct {
		Path        string `yaml:"path"`
		ResultsFile string `yaml:"resultsFile"`
	} `yaml:"data"`

	Server struct {
		ListenPort int    `yaml:"listenPort"`
		LogLevel   string `yaml:"logLevel"`
	} `yaml:"server"`

	Explain struct {
		LinearTopN     int     `yaml:"linearTopN"`
		TreeTopN       int     `yaml:"treeTopN"`
		SupportingTopN int     `yaml:"supportingTopN"`
		TieTolerance   float64 `yaml:"tieTolerance"`
	} `yaml:"explain"`
}

const (
	defaultArtifactTimeout = 30 * time.Second
	defaultBridgeTimeout   = 30 * time.Second
)

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
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

	artifactTimeout, err := parseDurationOr(config.Models.DownloadTimeout, defaultArtifactTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("models.downloadTimeout: %w", err)
	}
	bridgeTimeout, err := parseDurationOr(config.Bridge.Timeout, defaultBridgeTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("bridge.timeout: %w", err)
	}

	// Environment variables override file values
	settings := Settings{
		ModelsDir:           getEnvOrDefault(common.EnvModelsDir, orString(config.Models.Dir, common.DefaultModelsDir)),
		TreeModelPath:       getEnvOrDefault(common.EnvTreeModelPath, config.Models.Tree.Model),
		TreeThresholdPath:   getEnvOrDefault(common.EnvTreeThresholdPath, config.Models.Tree.Threshold),
		TreeFeaturesPath:    getEnvOrDefault(common.EnvTreeFeaturesPath, config.Models.Tree.Features),
		LinearModelPath:     getEnvOrDefault(common.EnvLinearModelPath, config.Models.Linear.Model),
		LinearThresholdPath: getEnvOrDefault(common.EnvLinearThresholdPath, config.Models.Linear.Threshold),
		LinearFeaturesPath:  getEnvOrDefault(common.EnvLinearFeaturesPath, config.Models.Linear.Features),
		ScalerPath:          getEnvOrDefault(common.EnvScalerPath, config.Models.Scaler),
		ArtifactCacheDir:    getEnvOrDefault(common.EnvArtifactCacheDir, orString(config.Models.CacheDir, common.DefaultArtifactCacheDir)),
		ArtifactTimeout:     getDurationOrDefault(common.EnvArtifactTimeout, artifactTimeout),

		PythonPath:    getEnvOrDefault(common.EnvPythonPath, config.Bridge.Python),
		BridgeTimeout: getDurationOrDefault(common.EnvBridgeTimeout, bridgeTimeout),

		DataPath:    getEnvOrDefault(common.EnvDataPath, orString(config.Data.Path, common.DefaultDataPath)),
		ResultsFile: getEnvOrDefault(common.EnvResultsFile, orString(config.Data.ResultsFile, common.DefaultResultsFile)),

		ListenPort: getIntFromEnvOrConfig(common.EnvListenPort, config.Server.ListenPort, common.DefaultListenPort),
		LogLevel:   getEnvOrDefault(common.EnvLogLevel, orString(config.Server.LogLevel, common.DefaultLogLevel)),

		DefaultLinearThreshold: getFloatFromEnvOrConfig(common.EnvDefaultLinearThresh, config.Models.Linear.DefaultThreshold, common.DefaultLinearThreshold),
		LinearTopN:             getIntFromEnvOrConfig(common.EnvLinearTopN, config.Explain.LinearTopN, common.DefaultLinearTopN),
		TreeTopN:               getIntFromEnvOrConfig(common.EnvTreeTopN, config.Explain.TreeTopN, common.DefaultTreeTopN),
		SupportingTopN:         orInt(config.Explain.SupportingTopN, common.DefaultSupportingTopN),
		TieTolerance:           getFloatFromEnvOrConfig(common.EnvTieTolerance, config.Explain.TieTolerance, common.DefaultTieTolerance),
	}
	settings.resolveArtifactPaths()

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelsDir:           getEnvOrDefault(common.EnvModelsDir, common.DefaultModelsDir),
		TreeModelPath:       os.Getenv(common.EnvTreeModelPath),
		TreeThresholdPath:   os.Getenv(common.EnvTreeThresholdPath),
		TreeFeaturesPath:    os.Getenv(common.EnvTreeFeaturesPath),
		LinearModelPath:     os.Getenv(common.EnvLinearModelPath),
		LinearThresholdPath: os.Getenv(common.EnvLinearThresholdPath),
		LinearFeaturesPath:  os.Getenv(common.EnvLinearFeaturesPath),
		ScalerPath:          os.Getenv(common.EnvScalerPath),
		ArtifactCacheDir:    getEnvOrDefault(common.EnvArtifactCacheDir, common.DefaultArtifactCacheDir),
		ArtifactTimeout:     getDurationOrDefault(common.EnvArtifactTimeout, defaultArtifactTimeout),

		PythonPath:    os.Getenv(common.EnvPythonPath), // optional, probed when empty
		BridgeTimeout: getDurationOrDefault(common.EnvBridgeTimeout, defaultBridgeTimeout),

		DataPath:    getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ResultsFile: getEnvOrDefault(common.EnvResultsFile, common.DefaultResultsFile),

		ListenPort: getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		LogLevel:   getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),

		DefaultLinearThreshold: getFloatOrDefault(common.EnvDefaultLinearThresh, common.DefaultLinearThreshold),
		LinearTopN:             getIntOrDefault(common.EnvLinearTopN, common.DefaultLinearTopN),
		TreeTopN:               getIntOrDefault(common.EnvTreeTopN, common.DefaultTreeTopN),
		SupportingTopN:         common.DefaultSupportingTopN,
		TieTolerance:           getFloatOrDefault(common.EnvTieTolerance, common.DefaultTieTolerance),
	}
	settings.resolveArtifactPaths()

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// resolveArtifactPaths fills unset artifact locations with the default file
// names under ModelsDir.
func (s *Settings) resolveArtifactPaths() {
	defaults := []struct {
		path *string
		file string
	}{
		{&s.TreeModelPath, common.DefaultTreeModelFile},
		{&s.TreeThresholdPath, common.DefaultTreeThresholdFile},
		{&s.TreeFeaturesPath, common.DefaultTreeFeaturesFile},
		{&s.LinearModelPath, common.DefaultLinearModelFile},
		{&s.LinearThresholdPath, common.DefaultLinearThresholdFile},
		{&s.LinearFeaturesPath, common.DefaultLinearFeaturesFile},
		{&s.ScalerPath, common.DefaultScalerFile},
	}
	for _, d := range defaults {
		if *d.path == "" {
			*d.path = filepath.Join(s.ModelsDir, d.file)
		}
	}
}

// ResultsPath is the canonical results CSV location.
func (s *Settings) ResultsPath() string {
	if filepath.IsAbs(s.ResultsFile) {
		return s.ResultsFile
	}
	return filepath.Join(s.DataPath, s.ResultsFile)
}

// Artifacts returns the artifact locations for ml.LoadBundle.
func (s *Settings) Artifacts() ml.ArtifactConfig {
	return ml.ArtifactConfig{
		TreeModelPath:          s.TreeModelPath,
		TreeThresholdPath:      s.TreeThresholdPath,
		TreeFeaturesPath:       s.TreeFeaturesPath,
		LinearModelPath:        s.LinearModelPath,
		LinearThresholdPath:    s.LinearThresholdPath,
		LinearFeaturesPath:     s.LinearFeaturesPath,
		ScalerPath:             s.ScalerPath,
		CacheDir:               s.ArtifactCacheDir,
		DownloadTimeout:        s.ArtifactTimeout,
		DefaultLinearThreshold: s.DefaultLinearThreshold,
		Bridge: ml.BridgeConfig{
			PythonPath: s.PythonPath,
			Timeout:    s.BridgeTimeout,
		},
	}
}

// ExplainOptions returns the report sizes and tie tolerance.
func (s *Settings) ExplainOptions() explain.Options {
	return explain.Options{
		LinearTopN:     s.LinearTopN,
		TreeTopN:       s.TreeTopN,
		SupportingTopN: s.SupportingTopN,
		TieTolerance:   s.TieTolerance,
	}
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

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getIntOrDefault(key, defaultValue)
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getFloatOrDefault(key, defaultValue)
}

func parseDurationOr(v string, defaultValue time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}

func orString(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func orInt(v, defaultValue int) int {
	if v != 0 {
		return v
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate required artifact locations
	if settings.TreeModelPath == "" || settings.TreeThresholdPath == "" {
		return fmt.Errorf("tree model and threshold paths are required")
	}
	if settings.LinearModelPath == "" {
		return fmt.Errorf("linear model path is required")
	}

	// Validate paths
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ResultsFile == "" {
		return fmt.Errorf("results file cannot be empty")
	}

	// Validate time durations
	if settings.ArtifactTimeout < time.Second || settings.ArtifactTimeout > 5*time.Minute {
		return fmt.Errorf("artifact timeout must be between 1s and 5m, got %v", settings.ArtifactTimeout)
	}
	if settings.BridgeTimeout < time.Second || settings.BridgeTimeout > 5*time.Minute {
		return fmt.Errorf("bridge timeout must be between 1s and 5m, got %v", settings.BridgeTimeout)
	}

	// Validate integer values
	if settings.ListenPort < common.MinListenPort || settings.ListenPort > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.ListenPort)
	}
	for name, n := range map[string]int{
		"linear top-N":     settings.LinearTopN,
		"tree top-N":       settings.TreeTopN,
		"supporting top-N": settings.SupportingTopN,
	} {
		if n < 1 || n > common.MaxTopN {
			return fmt.Errorf("%s must be between 1 and %d, got %d", name, common.MaxTopN, n)
		}
	}

	// Validate float values
	if settings.DefaultLinearThreshold <= 0 || settings.DefaultLinearThreshold >= 1 {
		return fmt.Errorf("default linear threshold must be between 0 and 1, got %f", settings.DefaultLinearThreshold)
	}
	if settings.TieTolerance <= 0 || settings.TieTolerance >= 1 {
		return fmt.Errorf("tie tolerance must be between 0 and 1, got %f", settings.TieTolerance)
	}

	// Validate log level
	switch strings.ToLower(settings.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}

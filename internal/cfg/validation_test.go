package cfg

import (
	"strings"
	"testing"
	"time"
)

func createValidSettings() *Settings {
	return &Settings{
		ModelsDir:              "models",
		TreeModelPath:          "models/random_forest_final.json",
		TreeThresholdPath:      "models/random_forest_final_threshold.json",
		LinearModelPath:        "models/log_reg_final_class_weighted.json",
		ArtifactCacheDir:       "models/.cache",
		ArtifactTimeout:        30 * time.Second,
		BridgeTimeout:          30 * time.Second,
		DataPath:               "data",
		ResultsFile:            "predictions.csv",
		ListenPort:             8501,
		LogLevel:               "info",
		DefaultLinearThreshold: 0.6,
		LinearTopN:             8,
		TreeTopN:               12,
		SupportingTopN:         3,
		TieTolerance:           0.15,
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	if err := validateSettings(createValidSettings()); err != nil {
		t.Errorf("Expected valid settings to pass validation, got error: %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
		errMsg string
	}{
		{"missing tree model", func(s *Settings) { s.TreeModelPath = "" }, "tree model and threshold paths are required"},
		{"missing tree threshold", func(s *Settings) { s.TreeThresholdPath = "" }, "tree model and threshold paths are required"},
		{"missing linear model", func(s *Settings) { s.LinearModelPath = "" }, "linear model path is required"},
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path cannot be empty"},
		{"empty results file", func(s *Settings) { s.ResultsFile = "" }, "results file cannot be empty"},
		{"artifact timeout too short", func(s *Settings) { s.ArtifactTimeout = 500 * time.Millisecond }, "artifact timeout must be between 1s and 5m"},
		{"artifact timeout too long", func(s *Settings) { s.ArtifactTimeout = 6 * time.Minute }, "artifact timeout must be between 1s and 5m"},
		{"bridge timeout too short", func(s *Settings) { s.BridgeTimeout = 0 }, "bridge timeout must be between 1s and 5m"},
		{"port too low", func(s *Settings) { s.ListenPort = 1023 }, "listen port must be between 1024 and 65535"},
		{"port too high", func(s *Settings) { s.ListenPort = 65536 }, "listen port must be between 1024 and 65535"},
		{"linear top-N zero", func(s *Settings) { s.LinearTopN = 0 }, "linear top-N must be between 1 and 100"},
		{"tree top-N too large", func(s *Settings) { s.TreeTopN = 101 }, "tree top-N must be between 1 and 100"},
		{"supporting top-N negative", func(s *Settings) { s.SupportingTopN = -1 }, "supporting top-N must be between 1 and 100"},
		{"linear threshold zero", func(s *Settings) { s.DefaultLinearThreshold = 0 }, "default linear threshold must be between 0 and 1"},
		{"linear threshold one", func(s *Settings) { s.DefaultLinearThreshold = 1 }, "default linear threshold must be between 0 and 1"},
		{"tolerance zero", func(s *Settings) { s.TieTolerance = 0 }, "tie tolerance must be between 0 and 1"},
		{"unknown log level", func(s *Settings) { s.LogLevel = "verbose" }, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.modify(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateSettings_BoundaryValues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"min port", func(s *Settings) { s.ListenPort = 1024 }},
		{"max port", func(s *Settings) { s.ListenPort = 65535 }},
		{"min timeout", func(s *Settings) { s.BridgeTimeout = time.Second }},
		{"max timeout", func(s *Settings) { s.ArtifactTimeout = 5 * time.Minute }},
		{"top-N one", func(s *Settings) { s.SupportingTopN = 1 }},
		{"top-N hundred", func(s *Settings) { s.TreeTopN = 100 }},
		{"upper case level", func(s *Settings) { s.LogLevel = "DEBUG" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.modify(settings)
			if err := validateSettings(settings); err != nil {
				t.Errorf("Expected boundary value to pass, got error: %v", err)
			}
		})
	}
}

// Package config loads the process configuration: a YAML file overlaid
// with environment variables, validated and defaulted at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full bundle of recognized options.
type Config struct {
	// Usage ceilings shared across all concurrent documents.
	DailyRequestLimit int     `yaml:"dailyRequestLimit"`
	DailyCostLimit    float64 `yaml:"dailyCostLimit"`

	// Pipeline deadlines and thresholds.
	PerCallTimeout            Duration `yaml:"perCallTimeout"`
	PerPageTimeout            Duration `yaml:"perPageTimeout"`
	PerDocumentDeadline       Duration `yaml:"perDocumentDeadline"`
	MinSufficientElementCount int      `yaml:"minSufficientElementCount"`
	MaxIssuesReturned         int      `yaml:"maxIssuesReturned"`
	IndustryMinHits           int      `yaml:"industryMinHits"`

	// Intake.
	MaxFileSizeBytes int64 `yaml:"maxFileSizeBytes"`

	// Extraction backends.
	OCRLanguages []string `yaml:"ocrLanguages"`
	Pdftotext    string   `yaml:"pdftotext"`
	Pdftoppm     string   `yaml:"pdftoppm"`
	Tesseract    string   `yaml:"tesseract"`

	// Vision backend (Vertex AI). Vision is skipped when ProjectID is
	// empty.
	ProjectID      string `yaml:"projectId"`
	VertexAIRegion string `yaml:"vertexAiRegion"`
	VisionModel    string `yaml:"visionModel"`

	// CredentialsFile overrides application default credentials for the
	// Google Cloud clients when set.
	CredentialsFile string `yaml:"credentialsFile"`

	// Usage ledger persistence: local file by default, a GCS object when
	// UsageBucket is set.
	UsageFile   string `yaml:"usageFile"`
	UsageBucket string `yaml:"usageBucket"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DailyRequestLimit:         20,
		DailyCostLimit:            5.0,
		PerCallTimeout:            Duration(30 * time.Second),
		PerPageTimeout:            Duration(20 * time.Second),
		PerDocumentDeadline:       Duration(3 * time.Minute),
		MinSufficientElementCount: 3,
		MaxIssuesReturned:         20,
		IndustryMinHits:           2,
		MaxFileSizeBytes:          50 << 20,
		OCRLanguages:              []string{"kor", "eng"},
		VertexAIRegion:            "us-central1",
		VisionModel:               "gemini-1.5-flash",
		UsageFile:                 "api_usage.json",
	}
}

// Load reads the YAML file at path (optional) over the defaults, then
// applies environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ProjectID = GetEnv("PROJECT_ID", cfg.ProjectID)
	cfg.VertexAIRegion = GetEnv("VERTEX_AI_REGION", cfg.VertexAIRegion)
	cfg.VisionModel = GetEnv("VISION_MODEL", cfg.VisionModel)
	cfg.CredentialsFile = GetEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.CredentialsFile)
	cfg.UsageFile = GetEnv("USAGE_FILE", cfg.UsageFile)
	cfg.UsageBucket = GetEnv("USAGE_BUCKET", cfg.UsageBucket)
	if v := GetEnv("DAILY_REQUEST_LIMIT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid DAILY_REQUEST_LIMIT %q: %w", v, err)
		}
		cfg.DailyRequestLimit = n
	}
	if v := GetEnv("DAILY_COST_LIMIT", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid DAILY_COST_LIMIT %q: %w", v, err)
		}
		cfg.DailyCostLimit = f
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DailyRequestLimit <= 0 {
		return fmt.Errorf("dailyRequestLimit must be positive")
	}
	if c.DailyCostLimit <= 0 {
		return fmt.Errorf("dailyCostLimit must be positive")
	}
	if c.MaxIssuesReturned <= 0 {
		return fmt.Errorf("maxIssuesReturned must be positive")
	}
	if c.MinSufficientElementCount <= 0 {
		return fmt.Errorf("minSufficientElementCount must be positive")
	}
	return nil
}

// GetEnv is a helper to read an environment variable or return a default
// value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Classifier holds the remote classification service settings.
type Classifier struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	SystemInstruction string `toml:"system_instruction"`

	// MaxContentTokens caps the estimated size of the content sent per file.
	// 0 sends everything.
	MaxContentTokens int `toml:"max_content_tokens"`

	RequestsPerMinute int `toml:"requests_per_minute"`
	BreakerFailures   int `toml:"breaker_failures"`
}

// Extract holds content extraction settings.
type Extract struct {
	OCRCommand           string `toml:"ocr_command"`
	OCRLanguage          string `toml:"ocr_language"`
	PDFFallbackPdftotext bool   `toml:"pdf_fallback_pdftotext"`

	// Markup is "raw" to pass markdown/html source through unchanged or
	// "text" to render it to plain text first.
	Markup string `toml:"markup"`
}

// Organize holds move settings.
type Organize struct {
	OnConflict string `toml:"on_conflict"`
}

// Logging holds log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

type Config struct {
	Classifier Classifier `toml:"classifier"`
	Extract    Extract    `toml:"extract"`
	Organize   Organize   `toml:"organize"`
	Logging    Logging    `toml:"logging"`
}

const (
	MarkupRaw  = "raw"
	MarkupText = "text"

	ConflictSkip      = "skip"
	ConflictRename    = "rename"
	ConflictOverwrite = "overwrite"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Classifier: Classifier{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			Model:          "gemini-2.5-flash",
			TimeoutSeconds: 120,
		},
		Extract: Extract{
			OCRCommand:           "tesseract",
			PDFFallbackPdftotext: true,
			Markup:               MarkupRaw,
		},
		Organize: Organize{OnConflict: ConflictSkip},
		Logging:  Logging{Format: "text", Level: "info"},
	}
}

// Load builds the configuration from defaults, the TOML file and the
// environment, in that order. It returns the resolved file path and whether
// the file existed.
func Load(path string) (Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return Config{}, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return Config{}, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() {
	c.Classifier.APIKey = envOr("GEMINI_API_KEY", c.Classifier.APIKey)
	c.Classifier.BaseURL = envOr("DOCSORT_BASE_URL", c.Classifier.BaseURL)
	c.Classifier.Model = envOr("DOCSORT_MODEL", c.Classifier.Model)
	c.Classifier.TimeoutSeconds = envInt("DOCSORT_TIMEOUT_SECONDS", c.Classifier.TimeoutSeconds)
	c.Classifier.MaxContentTokens = envInt("DOCSORT_MAX_CONTENT_TOKENS", c.Classifier.MaxContentTokens)
	c.Classifier.RequestsPerMinute = envInt("DOCSORT_REQUESTS_PER_MINUTE", c.Classifier.RequestsPerMinute)
	c.Classifier.BreakerFailures = envInt("DOCSORT_BREAKER_FAILURES", c.Classifier.BreakerFailures)

	c.Extract.OCRCommand = envOr("DOCSORT_OCR_COMMAND", c.Extract.OCRCommand)
	c.Extract.OCRLanguage = envOr("DOCSORT_OCR_LANGUAGE", c.Extract.OCRLanguage)
	// The unprefixed name is still read; the prefixed one wins.
	c.Extract.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.Extract.PDFFallbackPdftotext)
	c.Extract.PDFFallbackPdftotext = envBool("DOCSORT_PDF_FALLBACK_PDFTOTEXT", c.Extract.PDFFallbackPdftotext)
	c.Extract.Markup = envOr("DOCSORT_MARKUP", c.Extract.Markup)

	c.Organize.OnConflict = envOr("DOCSORT_ON_CONFLICT", c.Organize.OnConflict)

	c.Logging.Format = envOr("DOCSORT_LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = envOr("DOCSORT_LOG_LEVEL", c.Logging.Level)
}

func (c *Config) normalize() {
	def := Default()

	c.Classifier.APIKey = strings.TrimSpace(c.Classifier.APIKey)
	c.Classifier.BaseURL = strings.TrimRight(strings.TrimSpace(c.Classifier.BaseURL), "/")
	if c.Classifier.BaseURL == "" {
		c.Classifier.BaseURL = def.Classifier.BaseURL
	}
	c.Classifier.Model = strings.TrimSpace(c.Classifier.Model)
	if c.Classifier.Model == "" {
		c.Classifier.Model = def.Classifier.Model
	}
	if c.Classifier.TimeoutSeconds == 0 {
		c.Classifier.TimeoutSeconds = def.Classifier.TimeoutSeconds
	}
	c.Classifier.SystemInstruction = strings.TrimSpace(c.Classifier.SystemInstruction)

	c.Extract.OCRCommand = strings.TrimSpace(c.Extract.OCRCommand)
	if c.Extract.OCRCommand == "" {
		c.Extract.OCRCommand = def.Extract.OCRCommand
	}
	c.Extract.OCRLanguage = strings.TrimSpace(c.Extract.OCRLanguage)
	c.Extract.Markup = strings.ToLower(strings.TrimSpace(c.Extract.Markup))
	if c.Extract.Markup == "" {
		c.Extract.Markup = def.Extract.Markup
	}

	c.Organize.OnConflict = strings.ToLower(strings.TrimSpace(c.Organize.OnConflict))
	if c.Organize.OnConflict == "" {
		c.Organize.OnConflict = def.Organize.OnConflict
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks enum values and limits. The API key is checked separately
// by RequireAPIKey since offline commands run without one.
func (c Config) Validate() error {
	if c.Classifier.TimeoutSeconds < 0 {
		return fmt.Errorf("classifier.timeout_seconds must be non-negative")
	}
	if c.Classifier.MaxContentTokens < 0 {
		return fmt.Errorf("classifier.max_content_tokens must be non-negative")
	}
	if c.Classifier.RequestsPerMinute < 0 {
		return fmt.Errorf("classifier.requests_per_minute must be non-negative")
	}
	if c.Classifier.BreakerFailures < 0 {
		return fmt.Errorf("classifier.breaker_failures must be non-negative")
	}
	switch c.Extract.Markup {
	case MarkupRaw, MarkupText:
	default:
		return fmt.Errorf("extract.markup must be %q or %q, got %q", MarkupRaw, MarkupText, c.Extract.Markup)
	}
	switch c.Organize.OnConflict {
	case ConflictSkip, ConflictRename, ConflictOverwrite:
	default:
		return fmt.Errorf("organize.on_conflict must be one of skip, rename, overwrite, got %q", c.Organize.OnConflict)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// RequireAPIKey reports a missing classification API key.
func (c Config) RequireAPIKey() error {
	if c.Classifier.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required (or set classifier.api_key in the config file)")
	}
	return nil
}

// Timeout returns the classifier HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docsort/config.toml")
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %s", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("docsort.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const apiKeyPlaceholder = "your-openai-api-key-here"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a custom type that handles JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

type ServerConfig struct {
	Port          int      `json:"port"`
	ReadTimeout   Duration `json:"read_timeout"`
	WriteTimeout  Duration `json:"write_timeout"`
	MaxUploadSize int64    `json:"max_upload_size"`
}

type OpenAIConfig struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

type GeminiConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

type TranslationConfig struct {
	Provider       string   `json:"provider"`
	SourceLang     string   `json:"source_language"`
	TargetLang     string   `json:"target_language"`
	BatchSize      int      `json:"batch_size"`
	MaxChars       int      `json:"max_chars"`
	MaxRetries     int      `json:"max_retries"`
	RetryDelay     Duration `json:"retry_delay"`
	RequestTimeout Duration `json:"request_timeout"`
	RateLimit      float64  `json:"rate_limit"`
	Concurrency    int      `json:"concurrency"`
	OnError        string   `json:"on_error"`
	SkipTags       []string `json:"skip_tags"`
	UpdateMetadata bool     `json:"update_metadata"`
	SupportedLangs []string `json:"supported_languages"`
}

type AppConfig struct {
	TempDir   string `json:"temp_dir"`
	OutputDir string `json:"output_dir"`
}

type Config struct {
	Server      ServerConfig      `json:"server"`
	OpenAI      OpenAIConfig      `json:"openai"`
	Gemini      GeminiConfig      `json:"gemini"`
	Translation TranslationConfig `json:"translation"`
	App         AppConfig         `json:"app"`
}

func New() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			ReadTimeout:   Duration{30 * time.Second},
			WriteTimeout:  Duration{30 * time.Second},
			MaxUploadSize: 50 << 20,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.1,
		},
		Gemini: GeminiConfig{
			Model: "gemini-1.5-flash",
		},
		Translation: TranslationConfig{
			Provider:       ProviderOpenAI,
			SourceLang:     "auto",
			TargetLang:     "it",
			BatchSize:      3,
			MaxChars:       1500,
			MaxRetries:     3,
			RetryDelay:     Duration{2 * time.Second},
			RequestTimeout: Duration{60 * time.Second},
			RateLimit:      0.67,
			Concurrency:    1,
			OnError:        "abort",
			SkipTags:       []string{"script", "style"},
			UpdateMetadata: true,
			SupportedLangs: []string{
				"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh",
				"ar", "fa", "he", "hi", "tr", "pl", "nl", "sv", "da", "no",
			},
		},
		App: AppConfig{
			TempDir:   "tmp",
			OutputDir: "output",
		},
	}
}

func (c *Config) LoadFromFile(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) SaveToFile(filepath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, data, 0600)
}

// LoadDotEnv reads KEY=value pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.Gemini.APIKey = apiKey
	}
	if provider := os.Getenv("TRANSLATION_PROVIDER"); provider != "" {
		c.Translation.Provider = strings.ToLower(provider)
	}
	if lang := os.Getenv("TARGET_LANGUAGE"); lang != "" {
		c.Translation.TargetLang = lang
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if tempDir := os.Getenv("TEMP_DIR"); tempDir != "" {
		c.App.TempDir = tempDir
	}
	if outputDir := os.Getenv("OUTPUT_DIR"); outputDir != "" {
		c.App.OutputDir = outputDir
	}
}

// Load loads configuration with the following priority:
// 1. Command line flags (handled in main.go)
// 2. Environment variables
// 3. .env next to the working directory
// 4. Configuration file (config.json), if present
// 5. Default values
func Load(configPath string) (*Config, error) {
	cfg := New()

	if configPath != "" {
		err := cfg.LoadFromFile(configPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg.LoadFromEnv()

	return cfg, nil
}

// Validate checks value ranges. Credentials are checked separately because
// dry runs do not need them.
func (c *Config) Validate() error {
	t := c.Translation
	switch {
	case t.Provider != ProviderOpenAI && t.Provider != ProviderGemini:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, t.Provider)
	case strings.TrimSpace(t.TargetLang) == "":
		return fmt.Errorf("%w: target language is required", ErrInvalidConfig)
	case t.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be at least 1", ErrInvalidConfig)
	case t.MaxChars < 1:
		return fmt.Errorf("%w: max_chars must be at least 1", ErrInvalidConfig)
	case t.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	case t.RateLimit < 0:
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalidConfig)
	case t.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	case t.OnError != "abort" && t.OnError != "keep":
		return fmt.Errorf("%w: on_error must be abort or keep", ErrInvalidConfig)
	case c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2:
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidConfig)
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

// CheckCredentials makes sure the selected provider has an API key.
func (c *Config) CheckCredentials() error {
	switch c.Translation.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrInvalidConfig)
		}
	default:
		if c.OpenAI.APIKey == "" || c.OpenAI.APIKey == apiKeyPlaceholder {
			return fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrInvalidConfig)
		}
	}
	return nil
}

// Redacted returns a copy safe for printing.
func (c *Config) Redacted() *Config {
	out := *c
	out.OpenAI.APIKey = redact(c.OpenAI.APIKey)
	out.Gemini.APIKey = redact(c.Gemini.APIKey)
	return &out
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

// Init creates configPath if needed and asks for a missing OpenAI key.
func Init(configPath string, in io.Reader, out io.Writer) (*Config, error) {
	if err := ensureConfigFile(configPath, out); err != nil {
		return nil, fmt.Errorf("failed to ensure config file: %w", err)
	}

	cfg := New()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	if cfg.OpenAI.APIKey == "" || cfg.OpenAI.APIKey == apiKeyPlaceholder {
		apiKey, err := promptForAPIKey(in, out)
		if err != nil {
			return nil, fmt.Errorf("failed to get OpenAI API key: %w", err)
		}
		cfg.OpenAI.APIKey = apiKey

		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to save API key to config file: %w", err)
		}
		fmt.Fprintf(out, "✅ OpenAI API key saved to %s\n", configPath)
	}

	return cfg, nil
}

// ensureConfigFile checks if config.json exists, if not creates it from config.example.json
func ensureConfigFile(configPath string, out io.Writer) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	configDir := filepath.Dir(configPath)
	examplePath := filepath.Join(configDir, "config.example.json")

	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if execPath, execErr := os.Executable(); execErr == nil {
			examplePath = filepath.Join(filepath.Dir(execPath), "config.example.json")
		}
	}

	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		fmt.Fprintf(out, "⚠️  No config.example.json found, creating basic %s...\n", filepath.Base(configPath))
		return New().SaveToFile(configPath)
	}

	fmt.Fprintf(out, "📋 Creating %s from config.example.json...\n", filepath.Base(configPath))
	return copyFile(examplePath, configPath)
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sourceFile.Close() }()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = destFile.Close() }()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// promptForAPIKey prompts the user to enter their OpenAI API key
func promptForAPIKey(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintln(out, "\n🔑 OpenAI API Key Required")
	fmt.Fprintln(out, "To translate books you need an OpenAI API key.")
	fmt.Fprintln(out, "Get one at: https://platform.openai.com/api-keys")
	fmt.Fprintln(out)

	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "Please enter your OpenAI API key: ")
		apiKey, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(apiKey) == "") {
			return "", err
		}

		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			fmt.Fprintln(out, "❌ API key cannot be empty. Please try again.")
			continue
		}

		if !strings.HasPrefix(apiKey, "sk-") {
			fmt.Fprintln(out, "⚠️  Warning: OpenAI API keys typically start with 'sk-'")
			fmt.Fprint(out, "Continue anyway? (y/N): ")
			confirm, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return "", err
			}
			confirm = strings.TrimSpace(strings.ToLower(confirm))
			if confirm != "y" && confirm != "yes" {
				if err == io.EOF {
					return "", io.ErrUnexpectedEOF
				}
				continue
			}
		}

		return apiKey, nil
	}
}

// GetConfigPath returns the path to the config file
// It looks for config.json in the same directory as the executable
func GetConfigPath() string {
	if execPath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(execPath), "config.json")
	}

	if pwd, err := os.Getwd(); err == nil {
		return filepath.Join(pwd, "config.json")
	}

	return "config.json"
}

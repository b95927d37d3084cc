package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/B3VERAGE/Epub-translate/internal/config"
	"github.com/B3VERAGE/Epub-translate/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	logger  *logrus.Logger
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "epub-translator",
	Short: "Translate EPUB books with large language models",
	Long: `EPUB Translator rewrites the text of an EPUB book into another language
while keeping every tag, attribute and archive entry of the original intact.
Use "translate" for a single book or "server" for the HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setupLogging(cmd)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("EPUB Translator v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Manage application configuration including viewing current settings and setting up API keys.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  showConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringP("openai-key", "k", "", "OpenAI API key")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path (default: config.json beside executable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	serverCmd.Flags().IntP("port", "p", 8080, "Port to run the web server on")
	serverCmd.Flags().String("output-dir", "output", "Output directory for translated EPUB files")
	serverCmd.Flags().String("temp-dir", "tmp", "Temporary directory for uploads")
	serverCmd.Flags().String("provider", "", "Translation provider: openai or gemini")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.CheckCredentials(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.App.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	if err := os.MkdirAll(cfg.App.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	translator, closeTranslator, err := newTranslator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTranslator()

	srv := server.New(cfg, logger, translator)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🚀 Starting EPUB Translator server")
		logger.Infof("📡 Server running on port %d", cfg.Server.Port)
		logger.Infof("🤖 Provider: %s (%s)", cfg.Translation.Provider, translator.Name())
		logger.Infof("📁 Temp directory: %s", cfg.App.TempDir)
		logger.Infof("📤 Output directory: %s", cfg.App.OutputDir)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("✅ Server exited gracefully")
	return nil
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetConfigPath()
	}
	return path
}

// loadConfig layers changed command line flags over config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath(cmd)
	logger.Debugf("Loading configuration from: %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if apiKey, _ := flags.GetString("openai-key"); apiKey != "" {
		cfg.OpenAI.APIKey = apiKey
		logger.Debug("OpenAI API key overridden by flag")
	}

	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
		logger.Debugf("Port overridden by flag: %d", cfg.Server.Port)
	}

	if flags.Lookup("output-dir") != nil && flags.Changed("output-dir") {
		cfg.App.OutputDir, _ = flags.GetString("output-dir")
		logger.Debugf("Output directory overridden by flag: %s", cfg.App.OutputDir)
	}

	if flags.Lookup("temp-dir") != nil && flags.Changed("temp-dir") {
		cfg.App.TempDir, _ = flags.GetString("temp-dir")
		logger.Debugf("Temp directory overridden by flag: %s", cfg.App.TempDir)
	}

	if flags.Lookup("provider") != nil && flags.Changed("provider") {
		cfg.Translation.Provider, _ = flags.GetString("provider")
	}

	return cfg, nil
}

func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func showConfig(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)

	fmt.Printf("📋 EPUB Translator Configuration\n")
	fmt.Printf("Configuration file: %s\n\n", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("❌ Configuration file does not exist, showing defaults and environment\n")
		fmt.Printf("💡 Run 'epub-translator config init' to create one\n\n")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = cfg.Redacted()

	fmt.Printf("Server Settings:\n")
	fmt.Printf("  Port: %d\n", cfg.Server.Port)
	fmt.Printf("  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Printf("  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Printf("  Max Upload Size: %d MiB\n", cfg.Server.MaxUploadSize>>20)
	fmt.Printf("\n")

	fmt.Printf("OpenAI Settings:\n")
	fmt.Printf("  API Key: %s\n", orNotSet(cfg.OpenAI.APIKey))
	if cfg.OpenAI.BaseURL != "" {
		fmt.Printf("  Base URL: %s\n", cfg.OpenAI.BaseURL)
	}
	fmt.Printf("  Model: %s\n", cfg.OpenAI.Model)
	fmt.Printf("  Max Tokens: %d\n", cfg.OpenAI.MaxTokens)
	fmt.Printf("  Temperature: %.1f\n", cfg.OpenAI.Temperature)
	fmt.Printf("\n")

	fmt.Printf("Gemini Settings:\n")
	fmt.Printf("  API Key: %s\n", orNotSet(cfg.Gemini.APIKey))
	fmt.Printf("  Model: %s\n", cfg.Gemini.Model)
	fmt.Printf("\n")

	t := cfg.Translation
	fmt.Printf("Translation Settings:\n")
	fmt.Printf("  Provider: %s\n", t.Provider)
	fmt.Printf("  Languages: %s -> %s\n", t.SourceLang, t.TargetLang)
	fmt.Printf("  Batch Size: %d texts / %d chars\n", t.BatchSize, t.MaxChars)
	fmt.Printf("  Concurrency: %d\n", t.Concurrency)
	fmt.Printf("  Rate Limit: %.2f req/s\n", t.RateLimit)
	fmt.Printf("  Max Retries: %d\n", t.MaxRetries)
	fmt.Printf("  Retry Delay: %s\n", t.RetryDelay)
	fmt.Printf("  On Error: %s\n", t.OnError)
	fmt.Printf("  Supported Languages: %d languages\n", len(t.SupportedLangs))
	fmt.Printf("\n")

	fmt.Printf("Application Settings:\n")
	fmt.Printf("  Temp Directory: %s\n", cfg.App.TempDir)
	fmt.Printf("  Output Directory: %s\n", cfg.App.OutputDir)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\n⚠️  %v\n", err)
	}
	return nil
}

func orNotSet(v string) string {
	if v == "" {
		return "❌ Not set"
	}
	return v
}

func initConfig(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)

	fmt.Printf("🔧 Initializing EPUB Translator Configuration\n")
	fmt.Printf("Configuration file: %s\n\n", path)

	if _, err := config.Init(path, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	fmt.Printf("\n✅ Configuration initialized successfully!\n")
	fmt.Printf("💡 Run 'epub-translator translate -i book.epub' or 'epub-translator server'\n")
	fmt.Printf("📋 Use 'epub-translator config show' to view your configuration\n")
	return nil
}

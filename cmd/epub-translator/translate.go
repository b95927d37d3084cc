package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/B3VERAGE/Epub-translate/internal/config"
	"github.com/B3VERAGE/Epub-translate/internal/server"
	"github.com/B3VERAGE/Epub-translate/internal/translation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a single EPUB file",
	Example: `  epub-translator translate -i book.epub --target it
  epub-translator translate -i book.epub -o libro.epub --source en --target it --batch-size 5
  epub-translator translate -i book.epub --dry-run`,
	RunE: runTranslate,
}

func init() {
	f := translateCmd.Flags()
	f.StringP("input", "i", "input.epub", "Input EPUB file")
	f.StringP("output", "o", "", "Output EPUB file (default: <input>_<target>.epub)")
	f.String("source", "", "Source language code, or auto to detect")
	f.String("target", "", "Target language code")
	f.String("provider", "", "Translation provider: openai or gemini")
	f.String("model", "", "Model name for the selected provider")
	f.Float32("temperature", 0, "Sampling temperature (0-2)")
	f.Int("batch-size", 0, "Maximum texts per request")
	f.Int("max-chars", 0, "Maximum characters per request")
	f.Int("concurrency", 0, "Parallel requests")
	f.Float64("rate-limit", 0, "Requests per second, 0 for no limit")
	f.Int("max-retries", 0, "Retries per request")
	f.String("on-error", "", "What to do when a batch fails: abort or keep")
	f.Bool("no-metadata", false, "Leave dc:title, dc:description and dc:language untouched")
	f.Bool("dry-run", false, "Analyze the book and estimate cost without translating")
}

// applyTranslateFlags copies every flag the user set into cfg.
func applyTranslateFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	t := &cfg.Translation

	if f.Changed("source") {
		t.SourceLang, _ = f.GetString("source")
	}
	if f.Changed("target") {
		t.TargetLang, _ = f.GetString("target")
	}
	if f.Changed("provider") {
		t.Provider, _ = f.GetString("provider")
	}
	if f.Changed("model") {
		model, _ := f.GetString("model")
		if t.Provider == config.ProviderGemini {
			cfg.Gemini.Model = model
		} else {
			cfg.OpenAI.Model = model
		}
	}
	if f.Changed("temperature") {
		cfg.OpenAI.Temperature, _ = f.GetFloat32("temperature")
	}
	if f.Changed("batch-size") {
		t.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("max-chars") {
		t.MaxChars, _ = f.GetInt("max-chars")
	}
	if f.Changed("concurrency") {
		t.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("rate-limit") {
		t.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("max-retries") {
		t.MaxRetries, _ = f.GetInt("max-retries")
	}
	if f.Changed("on-error") {
		t.OnError, _ = f.GetString("on-error")
	}
	if noMeta, _ := f.GetBool("no-metadata"); noMeta {
		t.UpdateMetadata = false
	}
}

// defaultOutputPath turns book.epub into book_it.epub.
func defaultOutputPath(input, target string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_" + target + ".epub"
}

func checkInput(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".epub") {
		return fmt.Errorf("input must be an .epub file: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input is a directory: %s", path)
	}
	return nil
}

func runTranslate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyTranslateFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	input, _ := cmd.Flags().GetString("input")
	if err := checkInput(input); err != nil {
		return err
	}

	target := translation.NormalizeLanguage(cfg.Translation.TargetLang)
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = defaultOutputPath(input, target)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		return runDryRun(ctx, cfg, input)
	}

	if err := cfg.CheckCredentials(); err != nil {
		return err
	}

	translator, closeTranslator, err := newTranslator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTranslator()

	svc := translation.NewService(translator, logger, server.ServiceOptions(cfg), &logBroadcaster{logger: logger})

	logger.Infof("📖 Translating %s -> %s (%s -> %s, %s)", input, output, cfg.Translation.SourceLang, target, translator.Name())

	result, err := svc.Translate(ctx, translation.Job{
		ID:         uuid.New().String(),
		InputPath:  input,
		OutputPath: output,
		SourceLang: cfg.Translation.SourceLang,
		TargetLang: target,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("translation interrupted, no output written")
		}
		return err
	}

	logger.WithFields(logrus.Fields{
		"documents":  result.Translated,
		"segments":   result.Segments,
		"unique":     result.Unique,
		"batches":    result.Batches,
		"failed":     result.FailedBatches,
		"duration":   result.Duration.Round(time.Millisecond),
		"source":     result.SourceLang,
		"target":     result.TargetLang,
		"right2left": result.RTL,
	}).Info("✅ Translation completed")

	if result.FailedBatches > 0 {
		logger.Warnf("%d batches kept their source text", result.FailedBatches)
	}
	fmt.Println(result.OutputPath)
	return nil
}

func runDryRun(ctx context.Context, cfg *config.Config, input string) error {
	svc := translation.NewService(translation.Identity{}, logger, server.ServiceOptions(cfg), nil)

	analysis, err := svc.Analyze(ctx, input)
	if err != nil {
		return err
	}

	model := cfg.OpenAI.Model
	if cfg.Translation.Provider == config.ProviderGemini {
		model = cfg.Gemini.Model
	}
	analysis.EstimatedCost = translation.EstimateCost(model, analysis.Unique)

	fmt.Printf("📊 Analysis of %s\n", input)
	if analysis.Title != "" {
		fmt.Printf("- Title: %s\n", analysis.Title)
	}
	if analysis.Language != "" {
		fmt.Printf("- Declared language: %s\n", analysis.Language)
	}
	fmt.Printf("- Documents: %d\n", analysis.Documents)
	fmt.Printf("- Text blocks: %d (%d unique)\n", analysis.Segments, analysis.Unique)
	fmt.Printf("- Words: %d\n", analysis.Words)
	fmt.Printf("- Requests: %d\n", analysis.Requests)
	if analysis.EstimatedTime > 0 {
		fmt.Printf("- ⏳ Estimated time: %.1f minutes\n", analysis.EstimatedTime.Minutes())
	}
	fmt.Printf("- 💰 Estimated cost (%s): $%.2f\n", model, analysis.EstimatedCost)

	if len(analysis.Chapters) > 0 {
		fmt.Printf("\nChapters:\n")
		for i, ch := range analysis.Chapters {
			label := ch.Title
			if label == "" {
				label = ch.Path
			}
			fmt.Printf("  %3d. %s (%d blocks, %d words)\n", i+1, label, ch.Segments, ch.Words)
		}
	}

	for i, sample := range analysis.Samples {
		fmt.Printf("\n[Sample %d]\n%s\n", i+1, sample)
	}
	for _, w := range analysis.Warnings {
		fmt.Printf("\n⚠️  %s\n", w)
	}
	return nil
}

// newTranslator builds the backend selected by the config. The returned
// func releases its resources.
func newTranslator(ctx context.Context, cfg *config.Config) (translation.Translator, func(), error) {
	retry := translation.RetryPolicy{
		MaxRetries: cfg.Translation.MaxRetries,
		Delay:      cfg.Translation.RetryDelay.Duration,
		MaxDelay:   translation.DefaultRetryPolicy.MaxDelay,
	}

	switch cfg.Translation.Provider {
	case config.ProviderGemini:
		client, err := translation.NewGeminiClient(ctx, translation.GeminiOptions{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.Translation.RequestTimeout.Duration,
			Retry:       retry,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil

	case config.ProviderOpenAI:
		client := translation.NewOpenAIClient(translation.OpenAIOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.Translation.RequestTimeout.Duration,
			Retry:       retry,
		}, logger)
		return client, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Translation.Provider)
	}
}

// logBroadcaster reports pipeline events through logrus in CLI mode.
// Progress is logged at info level once per document and every tenth of
// the batches; everything else goes to debug.
type logBroadcaster struct {
	logger *logrus.Logger

	mu       sync.Mutex
	lastDoc  string
	lastStep int
}

func (b *logBroadcaster) BroadcastMessage(msgType string, data interface{}) {
	fields, ok := data.(map[string]interface{})
	if !ok || msgType != "translation_progress" {
		b.logger.WithField("type", msgType).Debug("event")
		return
	}

	level := logrus.DebugLevel
	if b.shouldReport(fields) {
		level = logrus.InfoLevel
	}
	pct, _ := fields["progress_percent"].(float64)
	b.logger.WithFields(logrus.Fields{
		"batches":   fmt.Sprintf("%v/%v", fields["completed_batches"], fields["total_batches"]),
		"documents": fmt.Sprintf("%v/%v", fields["completed_documents"], fields["total_documents"]),
		"failed":    fields["failed_batches"],
		"document":  fields["current_document"],
	}).Logf(level, "Progress %.0f%%", pct)
}

func (b *logBroadcaster) shouldReport(fields map[string]interface{}) bool {
	doc, _ := fields["current_document"].(string)
	pct, _ := fields["progress_percent"].(float64)
	step := int(pct) / 10

	b.mu.Lock()
	defer b.mu.Unlock()

	if doc != b.lastDoc {
		b.lastDoc = doc
		b.lastStep = step
		return doc != ""
	}
	if step > b.lastStep {
		b.lastStep = step
		return true
	}
	return false
}

func (b *logBroadcaster) BroadcastLog(level, message, module string) {
	entry := b.logger.WithField("module", module)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	entry.Log(lvl, message)
}

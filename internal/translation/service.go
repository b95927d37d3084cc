package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/B3VERAGE/Epub-translate/internal/epub"
	"github.com/B3VERAGE/Epub-translate/internal/markup"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	OnErrorAbort = "abort"
	OnErrorKeep  = "keep"
)

// Options tune the pipeline. Zero values fall back to the defaults below.
type Options struct {
	BatchSize      int
	MaxChars       int
	Concurrency    int
	RateLimit      float64
	OnError        string
	SkipTags       []string
	UpdateMetadata bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 1500
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.OnError == "" {
		o.OnError = OnErrorAbort
	}
	if len(o.SkipTags) == 0 {
		o.SkipTags = markup.DefaultSkip
	}
	return o
}

// Job describes one book to translate. An empty or "auto" SourceLang
// triggers detection.
type Job struct {
	ID         string
	InputPath  string
	OutputPath string
	SourceLang string
	TargetLang string
}

type Result struct {
	JobID         string        `json:"job_id"`
	OutputPath    string        `json:"output_path"`
	SourceLang    string        `json:"source_lang"`
	TargetLang    string        `json:"target_lang"`
	Documents     int           `json:"documents"`
	Translated    int           `json:"translated_documents"`
	Segments      int           `json:"segments"`
	Unique        int           `json:"unique_segments"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	RTL           bool          `json:"rtl"`
	Duration      time.Duration `json:"duration"`
}

// Analysis is the dry-run report for a book.
type Analysis struct {
	Path          string        `json:"path"`
	Title         string        `json:"title"`
	Language      string        `json:"language"`
	Documents     int           `json:"documents"`
	Segments      int           `json:"segments"`
	Unique        int           `json:"unique_segments"`
	Words         int           `json:"words"`
	Chars         int           `json:"chars"`
	Requests      int           `json:"estimated_requests"`
	EstimatedTime time.Duration `json:"estimated_time"`
	EstimatedCost float64       `json:"estimated_cost"`
	Samples       []string      `json:"samples"`
	Chapters      []Chapter     `json:"chapters"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Chapter is the per-document line of an Analysis.
type Chapter struct {
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	Segments int    `json:"segments"`
	Words    int    `json:"words"`
}

type Service struct {
	translator Translator
	parser     *epub.Parser
	writer     *epub.Writer
	logger     *logrus.Logger
	opts       Options
	limiter    *rate.Limiter
	progress   map[string]*Progress
	cancels    map[string]context.CancelFunc
	progressMu sync.RWMutex
	wsHub      Broadcaster
}

func NewService(translator Translator, logger *logrus.Logger, opts Options, wsHub Broadcaster) *Service {
	opts = opts.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Service{
		translator: translator,
		parser:     epub.NewParser(logger),
		writer:     epub.NewWriter(logger),
		logger:     logger,
		opts:       opts,
		limiter:    limiter,
		progress:   make(map[string]*Progress),
		cancels:    make(map[string]context.CancelFunc),
		wsHub:      wsHub,
	}
}

// segmented pairs a document with its parsed text segments.
type segmented struct {
	doc    *epub.Document
	parsed *markup.Document
}

// Analyze reports what a translation would cost without calling the backend.
func (s *Service) Analyze(ctx context.Context, path string) (*Analysis, error) {
	book, err := s.open(path)
	if err != nil {
		return nil, err
	}

	docs, err := s.segment(book)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Path:     path,
		Title:    book.Package.Metadata.Title(),
		Language: book.Package.Metadata.Language(),
		Warnings: book.Warnings,
	}

	var stats markup.Stats
	for _, sd := range docs {
		if sd.doc.Kind == epub.KindContent {
			analysis.Documents++
		}
		docStats := sd.parsed.Stats()
		stats.Add(docStats)
		if sd.doc.Kind != epub.KindContent {
			continue
		}
		analysis.Chapters = append(analysis.Chapters, Chapter{
			Path:     sd.doc.Path,
			Title:    sd.doc.Title,
			Segments: docStats.Segments,
			Words:    docStats.Words,
		})
		for _, seg := range sd.parsed.Segments {
			if len(analysis.Samples) >= 3 {
				break
			}
			if len([]rune(seg.Text)) > 20 {
				analysis.Samples = append(analysis.Samples, truncateText(seg.Text, 200))
			}
		}
	}

	unique := uniqueTexts(docs)
	batches := MakeBatches(unique, s.opts.BatchSize, s.opts.MaxChars)

	analysis.Segments = stats.Segments
	analysis.Words = stats.Words
	analysis.Chars = stats.Chars
	analysis.Unique = len(unique)
	analysis.Requests = len(batches)
	if s.opts.RateLimit > 0 {
		analysis.EstimatedTime = time.Duration(float64(len(batches)) / s.opts.RateLimit * float64(time.Second))
	}
	analysis.EstimatedCost = EstimateCost(s.translator.Name(), len(unique))

	s.logger.Debugf("Analyzed %s: %d segments, %d requests", path, analysis.Segments, analysis.Requests)
	return analysis, nil
}

// EstimateCost is a rough per-segment price for the given model.
func EstimateCost(model string, segments int) float64 {
	perSegment := 0.0005
	switch {
	case model == "identity":
		perSegment = 0
	case model == "gpt-4", strings.HasPrefix(model, "gpt-4-"):
		perSegment = 0.002
	}
	return float64(segments) * perSegment
}

// Start runs Translate in the background. Progress is available through
// GetProgress as soon as Start returns; Cancel stops the job.
func (s *Service) Start(ctx context.Context, job Job) {
	ctx, cancel := context.WithCancel(ctx)

	s.progressMu.Lock()
	s.cancels[job.ID] = cancel
	s.progressMu.Unlock()

	s.track(job.ID)
	s.updateProgress(job.ID, func(p *Progress) {
		p.InputPath = job.InputPath
		p.OutputPath = job.OutputPath
		p.TargetLanguage = job.TargetLang
		p.Status = StatusPending
	})

	go func() {
		defer func() {
			s.progressMu.Lock()
			delete(s.cancels, job.ID)
			s.progressMu.Unlock()
			cancel()
		}()

		if _, err := s.Translate(ctx, job); err != nil {
			s.logger.Errorf("Translation failed: %v", err)
			return
		}
		s.logger.Infof("Translation completed successfully")
	}()
}

// Translate runs the whole pipeline for one job. No output is written when
// it returns an error.
func (s *Service) Translate(ctx context.Context, job Job) (result *Result, err error) {
	started := time.Now()

	s.track(job.ID)
	s.updateProgress(job.ID, func(p *Progress) {
		p.InputPath = job.InputPath
		p.OutputPath = job.OutputPath
		p.TargetLanguage = job.TargetLang
		p.Status = StatusInProgress
		p.StartedAt = started
	})

	defer func() {
		s.updateProgress(job.ID, func(p *Progress) {
			p.CompletedAt = time.Now()
			p.CurrentDocument = ""
			if err != nil {
				p.Status = StatusFailed
				p.ErrorMessage = err.Error()
				return
			}
			p.Status = StatusCompleted
		})
	}()

	target := NormalizeLanguage(job.TargetLang)
	if target == "" {
		return nil, fmt.Errorf("target language is required")
	}

	book, err := s.open(job.InputPath)
	if err != nil {
		return nil, err
	}

	docs, err := s.segment(book)
	if err != nil {
		return nil, err
	}

	source := NormalizeLanguage(job.SourceLang)
	if source == "" || source == "auto" {
		source, err = DetectLanguage(ctx, sampleText(docs), s.translator, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to detect language: %w", err)
		}
		s.logger.Infof("Detected source language: %s", source)
	}
	if source == target {
		return nil, fmt.Errorf("%w: %s", ErrSameLanguage, source)
	}

	unique := uniqueTexts(docs)
	batches := MakeBatches(unique, s.opts.BatchSize, s.opts.MaxChars)

	s.updateProgress(job.ID, func(p *Progress) {
		p.SourceLanguage = source
		p.TotalDocuments = len(docs)
		p.TotalBatches = len(batches)
	})

	s.logger.Infof("Translating %d segments (%d unique) in %d batches", countSegments(docs), len(unique), len(batches))

	translated, failed, err := s.translateAll(ctx, job.ID, unique, batches, source, target)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cache := make(map[string]string, len(unique))
	for i, text := range unique {
		cache[text] = translated[i]
	}

	changed, err := s.apply(job.ID, book, docs, cache, target)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.writer.WriteFile(book, job.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", job.OutputPath, err)
	}

	return &Result{
		JobID:         job.ID,
		OutputPath:    job.OutputPath,
		SourceLang:    source,
		TargetLang:    target,
		Documents:     len(docs),
		Translated:    changed,
		Segments:      countSegments(docs),
		Unique:        len(unique),
		Batches:       len(batches),
		FailedBatches: failed,
		RTL:           IsRTL(target),
		Duration:      time.Since(started),
	}, nil
}

func (s *Service) open(path string) (*epub.Book, error) {
	book, err := s.parser.Open(path)
	if err != nil {
		return nil, err
	}
	if err := s.parser.Validate(book); err != nil {
		return nil, err
	}
	for _, w := range book.Warnings {
		s.logger.Warnf("%s: %s", path, w)
	}
	return book, nil
}

// segment parses every translatable document. The package document only
// exposes dc:title and dc:description, the NCX only its labels.
func (s *Service) segment(book *epub.Book) ([]segmented, error) {
	var docs []segmented
	for _, doc := range book.Documents {
		var opts markup.Options
		switch {
		case doc.Kind == epub.KindPackage:
			if !s.opts.UpdateMetadata {
				continue
			}
			opts.Only = []string{"dc:title", "dc:description"}
		case strings.Contains(doc.MediaType, "dtbncx"):
			opts.Only = []string{"doctitle", "navlabel"}
		default:
			opts.Skip = s.opts.SkipTags
		}

		parsed, err := markup.Parse(doc.Content, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.Path, err)
		}
		docs = append(docs, segmented{doc: doc, parsed: parsed})
	}
	return docs, nil
}

// translateAll sends the batches through the worker pool and returns one
// translation per unique text.
func (s *Service) translateAll(ctx context.Context, jobID string, unique []string, batches []Batch, source, target string) ([]string, int, error) {
	translated := make([]string, len(unique))
	var (
		failedMu sync.Mutex
		failed   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			out, err := s.translateBatch(gctx, batch.Texts, source, target)
			if err != nil {
				if s.opts.OnError != OnErrorKeep || errors.Is(err, context.Canceled) {
					return fmt.Errorf("batch at %d: %w", batch.Start, err)
				}
				s.logger.Warnf("Keeping source text for batch at %d: %v", batch.Start, err)
				out = batch.Texts
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				s.updateProgress(jobID, func(p *Progress) { p.FailedBatches++ })
			} else {
				s.updateProgress(jobID, func(p *Progress) { p.CompletedBatches++ })
			}
			copy(translated[batch.Start:], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, failed, err
	}
	return translated, failed, nil
}

// translateBatch falls back to one text per request when the backend
// returns the wrong number of translations.
func (s *Service) translateBatch(ctx context.Context, texts []string, source, target string) ([]string, error) {
	out, err := s.request(ctx, texts, source, target)
	if err == nil || !errors.Is(err, ErrCountMismatch) || len(texts) == 1 {
		return out, err
	}

	s.logger.Warnf("Batch of %d returned a mismatched count, retrying one by one", len(texts))
	out = make([]string, len(texts))
	for i, text := range texts {
		single, err := s.request(ctx, []string{text}, source, target)
		if err != nil {
			return nil, err
		}
		out[i] = single[0]
	}
	return out, nil
}

func (s *Service) request(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := s.translator.Translate(ctx, Request{
		Texts:      texts,
		SourceLang: source,
		TargetLang: target,
	})
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, len(texts), len(out))
	}
	return out, nil
}

// apply writes translations back into each document and patches the
// package language. It returns the number of changed documents.
func (s *Service) apply(jobID string, book *epub.Book, docs []segmented, cache map[string]string, target string) (int, error) {
	changed := 0
	for _, sd := range docs {
		s.updateProgress(jobID, func(p *Progress) { p.CurrentDocument = documentLabel(sd.doc) })

		for _, seg := range sd.parsed.Segments {
			translation, ok := cache[seg.Text]
			if !ok {
				continue
			}
			if err := seg.Set(translation); err != nil {
				return changed, fmt.Errorf("%s: segment %d: %w", sd.doc.Path, seg.Index, err)
			}
		}
		if sd.parsed.Changed() {
			sd.doc.Translated = sd.parsed.Render()
			changed++
		}

		s.updateProgress(jobID, func(p *Progress) { p.CompletedDocuments++ })
	}

	if s.opts.UpdateMetadata {
		if pkg := book.PackageDocument(); pkg != nil {
			content := pkg.Content
			if pkg.IsTranslated() {
				content = pkg.Translated
			}
			if patched, ok := epub.PatchLanguage(content, target); ok {
				pkg.Translated = patched
			}
		}
	}
	return changed, nil
}

// documentLabel prefers the chapter title over the archive path.
func documentLabel(doc *epub.Document) string {
	if doc.Title != "" {
		return doc.Title
	}
	return doc.Path
}

func uniqueTexts(docs []segmented) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, sd := range docs {
		for _, seg := range sd.parsed.Segments {
			if seen[seg.Text] {
				continue
			}
			seen[seg.Text] = true
			unique = append(unique, seg.Text)
		}
	}
	return unique
}

func countSegments(docs []segmented) int {
	n := 0
	for _, sd := range docs {
		n += len(sd.parsed.Segments)
	}
	return n
}

// sampleText joins content segments until there is enough text to detect
// the language.
func sampleText(docs []segmented) string {
	var sb strings.Builder
	for _, sd := range docs {
		if sd.doc.Kind != epub.KindContent {
			continue
		}
		for _, seg := range sd.parsed.Segments {
			if sb.Len() >= detectSampleSize {
				return sb.String()
			}
			sb.WriteString(seg.Text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// IsRTL reports whether lang is written right to left.
func IsRTL(lang string) bool {
	rtlLanguages := map[string]bool{
		"ar": true,
		"he": true,
		"fa": true,
		"ur": true,
		"yi": true,
		"ku": true,
		"sd": true,
		"ug": true,
	}

	return rtlLanguages[NormalizeLanguage(lang)]
}

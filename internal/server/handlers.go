package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/B3VERAGE/Epub-translate/internal/epub"
	"github.com/B3VERAGE/Epub-translate/internal/markup"
	"github.com/B3VERAGE/Epub-translate/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// job is the server's record of an uploaded book.
type job struct {
	ID         string
	Filename   string
	Size       int64
	InputPath  string
	OutputPath string
	CreatedAt  time.Time
}

// uploadError carries the HTTP status for a rejected upload.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string {
	return e.msg
}

// saveUpload stores the "epub" form file under the temp dir as <id>.epub.
func (s *Server) saveUpload(c *gin.Context, id string) (string, int64, string, error) {
	maxSize := s.config.Server.MaxUploadSize
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+1<<20)

	file, err := c.FormFile("epub")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", 0, "", &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %s)", formatFileSize(maxSize))}
		}
		return "", 0, "", &uploadError{http.StatusBadRequest, "No file uploaded"}
	}

	if !strings.EqualFold(filepath.Ext(file.Filename), ".epub") {
		return "", 0, "", &uploadError{http.StatusBadRequest, "File must be an EPUB"}
	}

	if file.Size > maxSize {
		return "", 0, "", &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %s)", formatFileSize(maxSize))}
	}

	if err := os.MkdirAll(s.config.App.TempDir, 0755); err != nil {
		return "", 0, "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	tempPath := filepath.Join(s.config.App.TempDir, id+".epub")
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		return "", 0, "", fmt.Errorf("failed to save uploaded file: %w", err)
	}

	return tempPath, file.Size, file.Filename, nil
}

func (s *Server) respondUploadError(c *gin.Context, err error) {
	var upErr *uploadError
	if errors.As(err, &upErr) {
		c.JSON(upErr.status, gin.H{"error": upErr.msg})
		return
	}
	s.logger.Errorf("Upload failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
}

// bookErrorStatus maps pipeline errors onto HTTP statuses.
func bookErrorStatus(err error) int {
	switch {
	case errors.Is(err, epub.ErrDRMProtected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, epub.ErrInvalidEPUB),
		errors.Is(err, markup.ErrEncoding),
		errors.Is(err, markup.ErrUnsupportedMarkup):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateJob(c *gin.Context) {
	id := uuid.New().String()

	inputPath, size, filename, err := s.saveUpload(c, id)
	if err != nil {
		s.respondUploadError(c, err)
		return
	}

	targetLang := translation.NormalizeLanguage(c.DefaultPostForm("target_lang", s.config.Translation.TargetLang))
	sourceLang := translation.NormalizeLanguage(c.DefaultPostForm("source_lang", s.config.Translation.SourceLang))

	if !s.isSupported(targetLang) {
		_ = os.Remove(inputPath)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported target language: %s", targetLang)})
		return
	}

	if sourceLang == targetLang {
		_ = os.Remove(inputPath)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Source and target languages are the same"})
		return
	}

	if err := os.MkdirAll(s.config.App.OutputDir, 0755); err != nil {
		_ = os.Remove(inputPath)
		s.logger.Errorf("Failed to create output directory: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start translation"})
		return
	}

	base := sanitizeFilename(strings.TrimSuffix(filename, filepath.Ext(filename)))
	j := &job{
		ID:         id,
		Filename:   filename,
		Size:       size,
		InputPath:  inputPath,
		OutputPath: filepath.Join(s.config.App.OutputDir, fmt.Sprintf("%s_%s_%s.epub", base, targetLang, id[:8])),
		CreatedAt:  time.Now(),
	}

	s.jobsMu.Lock()
	s.jobs[id] = j
	s.jobsMu.Unlock()

	s.translationSvc.Start(s.ctx, translation.Job{
		ID:         id,
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})

	s.logger.Infof("Started job %s for %s (%s -> %s)", id, filename, sourceLang, targetLang)

	c.JSON(http.StatusAccepted, gin.H{
		"id":              id,
		"message":         "Translation started",
		"status_url":      fmt.Sprintf("/api/jobs/%s", id),
		"source_language": sourceLang,
		"target_language": targetLang,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	id := uuid.New().String()

	inputPath, _, filename, err := s.saveUpload(c, id)
	if err != nil {
		s.respondUploadError(c, err)
		return
	}
	defer func() { _ = os.Remove(inputPath) }()

	analysis, err := s.translationSvc.Analyze(c.Request.Context(), inputPath)
	if err != nil {
		s.logger.Warnf("Analysis of %s failed: %v", filename, err)
		c.JSON(bookErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	analysis.Path = filename

	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleListJobs(c *gin.Context) {
	s.jobsMu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.jobsMu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	views := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, s.jobView(j))
	}

	c.JSON(http.StatusOK, gin.H{"jobs": views, "total": len(views)})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	j := s.getJob(c.Param("id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, s.jobView(j))
}

func (s *Server) handleDownload(c *gin.Context) {
	j := s.getJob(c.Param("id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	progress := s.translationSvc.GetProgress(j.ID)
	if progress == nil || progress.Status != translation.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Translation not completed"})
		return
	}

	if _, err := os.Stat(j.OutputPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.Header("Content-Type", epub.MimeType)
	c.FileAttachment(j.OutputPath, filepath.Base(j.OutputPath))
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	id := c.Param("id")

	s.jobsMu.Lock()
	j, exists := s.jobs[id]
	delete(s.jobs, id)
	s.jobsMu.Unlock()

	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	s.translationSvc.ClearProgress(id)
	for _, path := range []string{j.InputPath, j.OutputPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("Failed to remove %s: %v", path, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Job deleted successfully"})
}

func (s *Server) handleLanguages(c *gin.Context) {
	langs := make([]gin.H, 0, len(s.config.Translation.SupportedLangs))
	for _, code := range s.config.Translation.SupportedLangs {
		langs = append(langs, gin.H{
			"code": code,
			"name": translation.LanguageName(code),
			"rtl":  translation.IsRTL(code),
		})
	}
	c.JSON(http.StatusOK, gin.H{"languages": langs})
}

func (s *Server) getJob(id string) *job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return s.jobs[id]
}

func (s *Server) isSupported(lang string) bool {
	if lang == "" {
		return false
	}
	if len(s.config.Translation.SupportedLangs) == 0 {
		return true
	}
	for _, supported := range s.config.Translation.SupportedLangs {
		if supported == lang {
			return true
		}
	}
	return false
}

func (s *Server) jobView(j *job) gin.H {
	view := gin.H{
		"id":         j.ID,
		"filename":   j.Filename,
		"size":       formatFileSize(j.Size),
		"created_at": j.CreatedAt,
	}

	progress := s.translationSvc.GetProgress(j.ID)
	if progress == nil {
		return view
	}

	view["status"] = progress.Status
	view["source_language"] = progress.SourceLanguage
	view["target_language"] = progress.TargetLanguage
	view["total_documents"] = progress.TotalDocuments
	view["completed_documents"] = progress.CompletedDocuments
	view["total_batches"] = progress.TotalBatches
	view["completed_batches"] = progress.CompletedBatches
	view["failed_batches"] = progress.FailedBatches
	view["current_document"] = progress.CurrentDocument
	view["progress_percentage"] = progress.Percent()
	view["started_at"] = progress.StartedAt

	switch progress.Status {
	case translation.StatusCompleted:
		view["completed_at"] = progress.CompletedAt
		view["download_url"] = fmt.Sprintf("/api/jobs/%s/download", j.ID)
	case translation.StatusFailed:
		view["completed_at"] = progress.CompletedAt
		view["error_message"] = progress.ErrorMessage
	}

	return view
}

func sanitizeFilename(filename string) string {
	var sb strings.Builder
	for _, r := range filename {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "translated_book"
	}
	return sb.String()
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

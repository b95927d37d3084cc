package translation

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Progress tracks one translation job.
type Progress struct {
	ID                 string    `json:"id"`
	InputPath          string    `json:"input_path"`
	OutputPath         string    `json:"output_path,omitempty"`
	SourceLanguage     string    `json:"source_language"`
	TargetLanguage     string    `json:"target_language"`
	TotalDocuments     int       `json:"total_documents"`
	CompletedDocuments int       `json:"completed_documents"`
	TotalBatches       int       `json:"total_batches"`
	CompletedBatches   int       `json:"completed_batches"`
	FailedBatches      int       `json:"failed_batches"`
	CurrentDocument    string    `json:"current_document,omitempty"`
	Status             Status    `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
}

// Percent is the share of finished batches, 0 to 100.
func (p *Progress) Percent() float64 {
	if p.TotalBatches == 0 {
		if p.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(p.CompletedBatches+p.FailedBatches) / float64(p.TotalBatches) * 100
}

// Done reports whether the job reached a final status.
func (p *Progress) Done() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

func (s *Service) GetProgress(id string) *Progress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()

	if progress, exists := s.progress[id]; exists {
		progressCopy := *progress
		return &progressCopy
	}
	return nil
}

// ListProgress returns a copy of every tracked job.
func (s *Service) ListProgress() []*Progress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()

	list := make([]*Progress, 0, len(s.progress))
	for _, progress := range s.progress {
		progressCopy := *progress
		list = append(list, &progressCopy)
	}
	return list
}

// Cancel stops a running job. It reports false when the job is not running.
func (s *Service) Cancel(id string) bool {
	s.progressMu.RLock()
	cancel, ok := s.cancels[id]
	s.progressMu.RUnlock()

	if ok {
		cancel()
	}
	return ok
}

// ClearProgress forgets a job, cancelling it first if it is still running.
func (s *Service) ClearProgress(id string) {
	s.Cancel(id)

	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	delete(s.progress, id)
}

// track registers a pending job unless it is already known.
func (s *Service) track(id string) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	if _, exists := s.progress[id]; !exists {
		s.progress[id] = &Progress{ID: id, Status: StatusPending}
	}
}

// updateProgress applies fn under the lock and broadcasts the result.
// Updates for cleared jobs are dropped.
func (s *Service) updateProgress(id string, fn func(p *Progress)) {
	s.progressMu.Lock()
	progress, exists := s.progress[id]
	if !exists {
		s.progressMu.Unlock()
		return
	}
	before := progress.Status
	fn(progress)
	snapshot := *progress
	s.progressMu.Unlock()

	s.broadcastProgress(&snapshot, before != snapshot.Status)
}

func (s *Service) broadcastProgress(progress *Progress, statusChanged bool) {
	if s.wsHub == nil {
		return
	}

	progressMsg := map[string]interface{}{
		"job_id":              progress.ID,
		"total_documents":     progress.TotalDocuments,
		"completed_documents": progress.CompletedDocuments,
		"total_batches":       progress.TotalBatches,
		"completed_batches":   progress.CompletedBatches,
		"failed_batches":      progress.FailedBatches,
		"current_document":    progress.CurrentDocument,
		"progress_percent":    progress.Percent(),
		"status":              progress.Status,
	}
	s.wsHub.BroadcastMessage("translation_progress", progressMsg)

	if !statusChanged {
		return
	}

	switch progress.Status {
	case StatusInProgress:
		s.wsHub.BroadcastLog("info", fmt.Sprintf("Translating %s (%s -> %s)",
			progress.InputPath, progress.SourceLanguage, progress.TargetLanguage), "translation")
	case StatusCompleted:
		s.wsHub.BroadcastLog("info", "Full translation completed successfully!", "translation")
		s.wsHub.BroadcastMessage("translation_complete", progressMsg)
	case StatusFailed:
		s.wsHub.BroadcastLog("error", fmt.Sprintf("Translation failed: %s", progress.ErrorMessage), "translation")
		s.wsHub.BroadcastMessage("translation_error", map[string]interface{}{
			"job_id": progress.ID,
			"error":  progress.ErrorMessage,
		})
	}
}

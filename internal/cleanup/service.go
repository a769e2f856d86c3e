package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/storage"
)

// Retention configures what the cleanup service reclaims and when.
type Retention struct {
	OutputCleanupEnabled       bool
	KeepOnlyFinal              bool
	OutputRetentionHours       float64
	FailedOutputRetentionHours float64
	OrphanOutputRetentionHours float64
	JobMetadataRetentionHours  float64
	UploadCleanupEnabled       bool
	UploadRetentionHours       float64
	UploadCleanupMaxDeletions  int
	Interval                   time.Duration
}

// keepInFinalMode are the artifacts preserved in a completed job's directory.
var keepInFinalMode = map[string]bool{
	"final_video.mp4": true,
	"video_info.json": true,
	"thumbnail.jpg":   true,
	"translations":    true,
}

// Service reclaims stale outputs, uploads, and job metadata on a schedule.
// Active jobs are never touched regardless of age.
type Service struct {
	layout    *storage.Layout
	manager   *jobs.Manager
	retention Retention
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(layout *storage.Layout, manager *jobs.Manager, retention Retention, logger *zap.Logger) *Service {
	if retention.Interval <= 0 {
		retention.Interval = time.Hour
	}
	return &Service{
		layout:    layout,
		manager:   manager,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// RunPeriodic ticks until the context is cancelled.
func (s *Service) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(s.retention.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs one full sweep.
func (s *Service) RunOnce() {
	if s.retention.OutputCleanupEnabled {
		s.sweepOutputs()
		s.sweepJobMetadata()
	}
	if s.retention.UploadCleanupEnabled {
		s.sweepUploads()
	}
}

func (s *Service) sweepOutputs() {
	entries, err := os.ReadDir(s.layout.OutputsRoot)
	if err != nil {
		s.logger.Warn("Cleanup could not scan outputs", zap.Error(err))
		return
	}
	now := s.now()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		dir := s.layout.JobDir(jobID)
		job := s.manager.Get(jobID)

		switch {
		case job == nil:
			// Orphan: no matching record.
			if s.olderThan(dir, now, s.retention.OrphanOutputRetentionHours) {
				s.removeDir(dir, "orphan output")
			}
		case job.Status.IsActive():
			// Never touch a live job's workspace.
			continue
		case job.Status == domain.StatusCompleted:
			if s.retention.KeepOnlyFinal && s.olderThan(dir, now, s.retention.OutputRetentionHours) {
				s.pruneToFinal(jobID, dir)
			}
		case job.Status == domain.StatusFailed:
			if s.olderThan(dir, now, s.retention.FailedOutputRetentionHours) {
				s.removeDir(dir, "failed job output")
			}
		}
	}
}

// pruneToFinal removes everything except the final video, its metadata, the
// thumbnail, and translations.
func (s *Service) pruneToFinal(jobID, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	pruned := 0
	for _, entry := range entries {
		if keepInFinalMode[entry.Name()] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("Failed to prune artifact",
				zap.String("job_id", jobID), zap.String("path", path), zap.Error(err))
			continue
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("Pruned completed job to final artifacts",
			zap.String("job_id", jobID), zap.Int("removed", pruned))
	}
}

func (s *Service) sweepJobMetadata() {
	if s.retention.JobMetadataRetentionHours <= 0 {
		return
	}
	cutoff := s.now().Add(-time.Duration(s.retention.JobMetadataRetentionHours * float64(time.Hour)))
	for _, job := range s.manager.ListAll() {
		if job.Status.IsActive() {
			continue
		}
		updated, err := time.Parse(time.RFC3339Nano, job.UpdatedAt)
		if err != nil || updated.After(cutoff) {
			continue
		}
		s.manager.Delete(job.ID)
		s.logger.Info("Deleted expired job record", zap.String("job_id", job.ID))
	}
}

// sweepUploads deletes expired uploads, bounded per tick to avoid stalls.
func (s *Service) sweepUploads() {
	entries, err := os.ReadDir(s.layout.UploadsRoot)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-time.Duration(s.retention.UploadRetentionHours * float64(time.Hour)))
	deleted := 0
	limit := s.retention.UploadCleanupMaxDeletions
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if limit > 0 && deleted >= limit {
			s.logger.Info("Upload cleanup hit per-tick deletion cap",
				zap.Int("deleted", deleted))
			return
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.layout.UploadsRoot, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete expired upload",
				zap.String("path", path), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("Deleted expired uploads", zap.Int("count", deleted))
	}
}

func (s *Service) olderThan(dir string, now time.Time, hours float64) bool {
	if hours <= 0 {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > time.Duration(hours*float64(time.Hour))
}

func (s *Service) removeDir(dir, reason string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("Cleanup removal failed",
			zap.String("path", dir), zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Info("Removed stale directory",
		zap.String("path", dir), zap.String("reason", reason))
}

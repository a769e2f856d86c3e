package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/storage"
)

// InterruptedMessage is written to jobs found mid-flight after a restart.
const InterruptedMessage = "Job was interrupted by server restart"

// Update carries the non-nil deltas applied by Manager.Update.
type Update struct {
	Status   *domain.JobStatus
	Progress *float64
	Message  *string
	Result   []domain.VideoResult
	Error    *string
}

// Manager tracks generation jobs with disk-first persistence and a bounded
// in-memory cache. It is the sole writer of job record files; every
// status/progress change reaches disk before the call returns.
type Manager struct {
	storageDir string
	cacheLimit int
	logger     *zap.Logger

	mu       sync.Mutex
	cache    map[string]*domain.Job
	knownIDs map[string]bool
}

// NewManager indexes existing job records from disk without loading payloads.
func NewManager(storageDir string, cacheLimit int, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job data dir: %w", err)
	}
	m := &Manager{
		storageDir: storageDir,
		cacheLimit: cacheLimit,
		logger:     logger,
		cache:      make(map[string]*domain.Job),
		knownIDs:   make(map[string]bool),
	}
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job data dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		m.knownIDs[strings.TrimSuffix(e.Name(), ".json")] = true
	}
	return m, nil
}

func (m *Manager) jobFile(jobID string) string {
	return filepath.Join(m.storageDir, jobID+".json")
}

// Create writes a fresh pending record and caches it.
func (m *Manager) Create(jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := domain.NewJob(jobID)
	if err := m.saveLocked(job); err != nil {
		return nil, err
	}
	m.cacheLocked(job)
	return job.Clone(), nil
}

// Get returns the job by id, cache first with disk fallback. Unknown ids are
// evicted from the index.
func (m *Manager) Get(jobID string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(jobID)
}

func (m *Manager) getLocked(jobID string) *domain.Job {
	if cached, ok := m.cache[jobID]; ok {
		return cached.Clone()
	}
	if !m.knownIDs[jobID] {
		return nil
	}
	job := m.loadFromDisk(jobID)
	if job == nil {
		delete(m.knownIDs, jobID)
		return nil
	}
	if job.Status.IsActive() || len(m.cache) < m.cacheLimit {
		m.cacheLocked(job)
	}
	return job.Clone()
}

// Update applies non-nil deltas, stamps updated_at, and persists atomically.
func (m *Manager) Update(jobID string, delta Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.cache[jobID]
	if !ok {
		if !m.knownIDs[jobID] {
			return fmt.Errorf("job %s not found", jobID)
		}
		job = m.loadFromDisk(jobID)
		if job == nil {
			delete(m.knownIDs, jobID)
			return fmt.Errorf("job %s not found", jobID)
		}
	}

	if delta.Status != nil {
		job.Status = *delta.Status
	}
	if delta.Progress != nil {
		job.Progress = *delta.Progress
	}
	if delta.Message != nil {
		job.Message = *delta.Message
	}
	if delta.Result != nil {
		job.Result = delta.Result
	}
	if delta.Error != nil {
		job.Error = *delta.Error
	}
	job.UpdatedAt = time.Now().Format(time.RFC3339Nano)

	if err := m.saveLocked(job); err != nil {
		return err
	}
	m.cacheLocked(job)
	return nil
}

// SetStatus is the common single-field update used by the pipeline.
func (m *Manager) SetStatus(jobID string, status domain.JobStatus, progress float64, message string) error {
	return m.Update(jobID, Update{Status: &status, Progress: &progress, Message: &message})
}

// Delete removes the record and returns its last state, or nil when unknown.
func (m *Manager) Delete(jobID string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.cache[jobID]
	if !ok && m.knownIDs[jobID] {
		job = m.loadFromDisk(jobID)
	}
	var last *domain.Job
	if job != nil {
		last = job.Clone()
	}

	delete(m.cache, jobID)
	delete(m.knownIDs, jobID)
	if err := os.Remove(m.jobFile(jobID)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove job record file",
			zap.String("job_id", jobID), zap.Error(err))
	}
	return last
}

// ListAll returns every persisted job sorted by id.
func (m *Manager) ListAll() []*domain.Job {
	m.mu.Lock()
	ids := make([]string, 0, len(m.knownIDs))
	for id := range m.knownIDs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		if job := m.Get(id); job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// GetInterrupted returns all jobs left in an active status, i.e. jobs the
// previous process never finished.
func (m *Manager) GetInterrupted() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var interrupted []*domain.Job
	for id := range m.knownIDs {
		job, ok := m.cache[id]
		if !ok {
			job = m.loadFromDisk(id)
			if job == nil {
				continue
			}
		}
		if job.Status.IsActive() {
			interrupted = append(interrupted, job.Clone())
			m.cacheLocked(job)
		}
	}
	sort.Slice(interrupted, func(i, j int) bool { return interrupted[i].ID < interrupted[j].ID })
	return interrupted
}

// MarkInterruptedFailed forces all interrupted jobs to failed.
func (m *Manager) MarkInterruptedFailed() {
	for _, job := range m.GetInterrupted() {
		status := domain.StatusFailed
		message := InterruptedMessage
		if err := m.Update(job.ID, Update{Status: &status, Message: &message}); err != nil {
			m.logger.Error("Failed to mark interrupted job failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// CacheSize returns the number of in-memory records (for tests and metrics).
func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

func (m *Manager) loadFromDisk(jobID string) *domain.Job {
	data, err := os.ReadFile(m.jobFile(jobID))
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Failed to read job record",
				zap.String("job_id", jobID), zap.Error(err))
		}
		return nil
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		m.logger.Warn("Corrupt job record",
			zap.String("job_id", jobID), zap.Error(err))
		return nil
	}
	return &job
}

func (m *Manager) saveLocked(job *domain.Job) error {
	if err := storage.WriteJSONAtomic(m.jobFile(job.ID), job); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	m.knownIDs[job.ID] = true
	return nil
}

func (m *Manager) cacheLocked(job *domain.Job) {
	m.cache[job.ID] = job.Clone()
	m.pruneLocked()
}

// pruneLocked evicts the stalest non-active records until the cache fits the
// limit. Active records are never evicted, so the limit may be temporarily
// exceeded while everything cached is active.
func (m *Manager) pruneLocked() {
	if len(m.cache) <= m.cacheLimit {
		return
	}
	type candidate struct {
		id        string
		updatedAt time.Time
	}
	var evictable []candidate
	for id, job := range m.cache {
		if job.Status.IsActive() {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, job.UpdatedAt)
		if err != nil {
			t = time.Time{}
		}
		evictable = append(evictable, candidate{id: id, updatedAt: t})
	}
	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].updatedAt.Before(evictable[j].updatedAt)
	})
	for _, c := range evictable {
		if len(m.cache) <= m.cacheLimit {
			break
		}
		delete(m.cache, c.id)
	}
}

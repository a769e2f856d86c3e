package domain

import "time"

// JobStatus tracks a generation job through its pipeline stages.
type JobStatus string

const (
	StatusPending           JobStatus = "pending"
	StatusAnalyzing         JobStatus = "analyzing"
	StatusGeneratingScript  JobStatus = "generating_script"
	StatusCreatingAnimation JobStatus = "creating_animations"
	StatusSynthesizingAudio JobStatus = "synthesizing_audio"
	StatusComposingVideo    JobStatus = "composing_video"
	StatusCompleted         JobStatus = "completed"
	StatusFailed            JobStatus = "failed"
)

// ActiveStatuses are the statuses of jobs the server still owes work to.
// A crash while a job is in one of these leaves it "interrupted".
var ActiveStatuses = map[JobStatus]bool{
	StatusPending:           true,
	StatusAnalyzing:         true,
	StatusGeneratingScript:  true,
	StatusCreatingAnimation: true,
	StatusSynthesizingAudio: true,
	StatusComposingVideo:    true,
}

// IsActive reports whether the job still owes work (includes pending).
func (s JobStatus) IsActive() bool {
	return ActiveStatuses[s]
}

// IsInProgress reports whether the pipeline has started on the job.
// Unlike IsActive it excludes pending.
func (s JobStatus) IsInProgress() bool {
	return s != StatusPending && ActiveStatuses[s]
}

// IsTerminal reports whether the job record is final.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable record of one video generation run.
type Job struct {
	ID        string        `json:"id"`
	Status    JobStatus     `json:"status"`
	Progress  float64       `json:"progress"`
	Message   string        `json:"message"`
	Result    []VideoResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
}

// NewJob returns a fresh pending job stamped with the current time.
func NewJob(id string) *Job {
	now := time.Now().Format(time.RFC3339Nano)
	return &Job{
		ID:        id,
		Status:    StatusPending,
		Progress:  0,
		Message:   "Job created",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can't mutate cached records.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		c.Result = make([]VideoResult, len(j.Result))
		copy(c.Result, j.Result)
	}
	return &c
}

// VideoResult is the single result record attached to a completed job.
type VideoResult struct {
	VideoID      string         `json:"video_id"`
	Title        string         `json:"title"`
	Duration     float64        `json:"duration"`
	Chapters     []VideoChapter `json:"chapters"`
	DownloadURL  string         `json:"download_url"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
}

// GenerateRequest carries the parameters of POST /generate.
type GenerateRequest struct {
	FileID          string `json:"file_id"`
	AnalysisID      string `json:"analysis_id"`
	SelectedTopics  []int  `json:"selected_topics"`
	Voice           string `json:"voice"`
	Style           string `json:"style"`
	Language        string `json:"language"`
	VideoMode       string `json:"video_mode"`
	ContentFocus    string `json:"content_focus"`
	DocumentContext string `json:"document_context"`
	Pipeline        string `json:"pipeline"`
	ResumeJobID     string `json:"resume_job_id"`
}

// TopicPayload is the script-generation input resolved from a stored analysis.
type TopicPayload struct {
	Title                string `json:"title"`
	Description          string `json:"description"`
	EstimatedDuration    int    `json:"estimated_duration"`
	SubjectArea          string `json:"subject_area"`
	SelectedTopicIndices []int  `json:"selected_topic_indices"`
	SelectedTopicTitles  []string `json:"selected_topic_titles"`
	AnalysisID           string `json:"analysis_id"`
}

package types

import (
	"time"

	"github.com/google/uuid"
)

// JobCandidate holds the details of a job posting a run is pursuing.
// Fields mirror what job boards expose: a source board, the board's own
// identifier (used for deduplication), and the posting content.
type JobCandidate struct {
	Source      string  `json:"source"`
	ExternalID  string  `json:"external_id,omitempty"`
	URL         string  `json:"url"`
	Company     string  `json:"company"`
	Title       string  `json:"title"`
	Location    string  `json:"location,omitempty"`
	SalaryMin   int     `json:"salary_min,omitempty"`
	SalaryMax   int     `json:"salary_max,omitempty"`
	Description string  `json:"description,omitempty"`
	MatchScore  float64 `json:"match_score,omitempty"`
	Scored      bool    `json:"scored,omitempty"`
}

// DocumentBundle references the generated application documents.
type DocumentBundle struct {
	ResumeText      string    `json:"resume_text,omitempty"`
	CoverLetterText string    `json:"cover_letter_text,omitempty"`
	ResumePath      string    `json:"resume_path,omitempty"`
	CoverLetterPath string    `json:"cover_letter_path,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// FormFillProgress tracks how far form filling got, including the
// pre-submission screenshot captured for human review and any security
// challenge artifact encountered on the way.
type FormFillProgress struct {
	Filled            bool   `json:"filled"`
	FieldsCompleted   int    `json:"fields_completed,omitempty"`
	ScreenshotPath    string `json:"screenshot_path,omitempty"`
	ChallengeArtifact string `json:"challenge_artifact,omitempty"`
	ChallengeToken    string `json:"challenge_token,omitempty"`
	ChallengeAttempts int    `json:"challenge_attempts,omitempty"`
}

// SubmissionRecord marks whether the application has been submitted.
// Once Submitted is true no adapter may re-submit.
type SubmissionRecord struct {
	Submitted    bool       `json:"submitted"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	Confirmation string     `json:"confirmation,omitempty"`
}

// RetryRecord counts attempts for one stage of one run. It is reset when the
// stage succeeds.
type RetryRecord struct {
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// UserProfile is the candidate-side material adapters draw on: the base
// resume and the skills used for match scoring and document generation.
type UserProfile struct {
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Phone  string   `json:"phone,omitempty"`
	Resume string   `json:"resume,omitempty"`
	Skills []string `json:"skills,omitempty"`
}

// Snapshot is the immutable context document carried through the pipeline.
// Every transition appends a new snapshot to history; prior snapshots are
// never mutated. The engine stamps run identity onto the snapshot before each
// stage invocation so adapters never reach into the store.
type Snapshot struct {
	RunID          uuid.UUID               `json:"run_id,omitempty"`
	UserID         uuid.UUID               `json:"user_id,omitempty"`
	JobRef         string                  `json:"job_ref,omitempty"`
	Candidate      *JobCandidate           `json:"candidate,omitempty"`
	Documents      *DocumentBundle         `json:"documents,omitempty"`
	FormFill       *FormFillProgress       `json:"form_fill,omitempty"`
	Submission     *SubmissionRecord       `json:"submission,omitempty"`
	TrackingStatus string                  `json:"tracking_status,omitempty"`
	LastError      string                  `json:"last_error,omitempty"`
	Retries        map[string]*RetryRecord `json:"retries,omitempty"`
	Metrics        map[string]any          `json:"metrics,omitempty"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Retries: make(map[string]*RetryRecord),
		Metrics: make(map[string]any),
	}
}

// Clone returns a deep copy safe to mutate without touching the original.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return NewSnapshot()
	}
	out := &Snapshot{
		RunID:          s.RunID,
		UserID:         s.UserID,
		JobRef:         s.JobRef,
		TrackingStatus: s.TrackingStatus,
		LastError:      s.LastError,
		Retries:        make(map[string]*RetryRecord, len(s.Retries)),
		Metrics:        make(map[string]any, len(s.Metrics)),
	}
	if s.Candidate != nil {
		c := *s.Candidate
		out.Candidate = &c
	}
	if s.Documents != nil {
		d := *s.Documents
		out.Documents = &d
	}
	if s.FormFill != nil {
		f := *s.FormFill
		out.FormFill = &f
	}
	if s.Submission != nil {
		sub := *s.Submission
		out.Submission = &sub
	}
	for stage, rec := range s.Retries {
		r := *rec
		out.Retries[stage] = &r
	}
	for k, v := range s.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// Retry returns the retry record for a stage, creating it if absent.
func (s *Snapshot) Retry(stage RunState) *RetryRecord {
	if s.Retries == nil {
		s.Retries = make(map[string]*RetryRecord)
	}
	rec, ok := s.Retries[string(stage)]
	if !ok {
		rec = &RetryRecord{}
		s.Retries[string(stage)] = rec
	}
	return rec
}

// ResetRetry clears the retry record for a stage after it succeeds.
func (s *Snapshot) ResetRetry(stage RunState) {
	if s.Retries != nil {
		delete(s.Retries, string(stage))
	}
}

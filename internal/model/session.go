package model

import (
	"maps"
	"time"
)

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionAnalyzing SessionStatus = "analyzing"
	SessionCompleted SessionStatus = "completed"
	SessionDegraded  SessionStatus = "degraded"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionDegraded, SessionError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal:
// pending -> analyzing -> {completed | degraded | error}. A pending session
// may also fail straight to error.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionAnalyzing || next == SessionError
	case SessionAnalyzing:
		return next.Terminal()
	default:
		return false
	}
}

// StepStatus is the state of one pipeline step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord is the audit entry for one pipeline step.
type StepRecord struct {
	Number    int            `json:"step_number"`
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AnalysisSession is the pollable state of one pipeline run.
type AnalysisSession struct {
	ID                 string        `json:"id"`
	Fingerprint        string        `json:"fingerprint,omitempty"`
	Status             SessionStatus `json:"status"`
	CompletedSteps     int           `json:"completed_steps"`
	TotalSteps         int           `json:"total_steps"`
	CurrentStep        string        `json:"current_step,omitempty"`
	CriticalErrorCount int           `json:"critical_error_count"`
	Steps              []StepRecord  `json:"steps"`
	Report             *CMAReport    `json:"report,omitempty"`
	QualityScore       int           `json:"quality_score"`
	Error              string        `json:"error,omitempty"`
	Suggestion         string        `json:"suggestion,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Clone returns a copy that shares no steps, details maps or end times
// with s. The report pointer is shared; reports are immutable once
// attached. Detail values are copied shallowly.
func (s *AnalysisSession) Clone() *AnalysisSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Steps = make([]StepRecord, len(s.Steps))
	for i, st := range s.Steps {
		if st.EndedAt != nil {
			ended := *st.EndedAt
			st.EndedAt = &ended
		}
		st.Details = maps.Clone(st.Details)
		c.Steps[i] = st
	}
	return &c
}

// Progress is the message published after every step.
type Progress struct {
	SessionID      string `json:"session_id"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	CurrentStep    string `json:"current_step"`
}

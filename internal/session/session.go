package session

import "time"

// Status is the coarse activity classification of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
)

// Source identifies the stream an output line was read from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// OutputLine is a single line captured from a session's process.
type OutputLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
}

// Summary is a point-in-time view of a session for listings.
type Summary struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	OutputCount int       `json:"outputCount"`
	Running     bool      `json:"running"`
	ExitCode    *int      `json:"exitCode,omitempty"`
}

package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobQueued     Stage = "JOB_QUEUED"
	StageJobStart      Stage = "JOB_START"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StageResultDropped Stage = "RESULT_DROPPED"
)

// Event captures a single job lifecycle milestone.
type Event struct {
	// JobID uniquely identifies the job the milestone belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Mode is the processing mode of the job ("render" or "archive").
	Mode string
	// Site optionally scopes the event to a host label.
	Site string
	// URL is the optional target URL; it should not contain credentials.
	URL string
	// ErrorKind carries the failure classification for JOB_ERROR events.
	ErrorKind string
	// Dur captures the enqueue-to-resolution latency for completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageResultDropped:
	case StageJobQueued:
		if e.Mode == "" {
			return errors.New("job queued requires mode")
		}
	case StageJobDone:
		if e.Mode == "" {
			return errors.New("job done requires mode")
		}
	case StageJobError:
		if e.Mode == "" {
			return errors.New("job error requires mode")
		}
		if e.ErrorKind == "" {
			return errors.New("job error requires error kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

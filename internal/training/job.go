// Package training runs adapter training jobs in the background and keeps
// their status records.
package training

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a training job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransition reports whether a job may move from one status to another.
// Status only advances: pending -> running -> completed|failed, and a pending
// job may fail before it starts.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Job is the status record of one training run.
type Job struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	LoRAID       string    `json:"lora_id"`
	LoRAName     string    `json:"lora_name,omitempty"`
	S3URI        string    `json:"s3_uri,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("training job not found")

// IsJobNotFound reports whether err refers to an unknown job.
func IsJobNotFound(err error) bool { return errors.Is(err, ErrJobNotFound) }

// transitionError rejects a status regression or a change to a finished job.
type transitionError struct {
	id       string
	from, to Status
}

func (e transitionError) Error() string {
	return fmt.Sprintf("job %s: invalid status transition %s -> %s", e.id, e.from, e.to)
}

func (e transitionError) StatusCode() int { return 409 }

// IsInvalidTransition reports whether err is a rejected status change.
func IsInvalidTransition(err error) bool {
	var te transitionError
	return errors.As(err, &te)
}

// queueFullError signals that no more jobs can be accepted right now.
type queueFullError struct{}

func (queueFullError) Error() string { return "too busy: training queue is full" }

func (queueFullError) StatusCode() int { return 429 }

// IsQueueFull reports whether err is a queue rejection.
func IsQueueFull(err error) bool {
	var qe queueFullError
	return errors.As(err, &qe)
}

// validationError rejects a StartRequest.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func (e validationError) StatusCode() int { return 422 }

// IsValidation reports whether err is a rejected StartRequest.
func IsValidation(err error) bool {
	var ve validationError
	return errors.As(err, &ve)
}

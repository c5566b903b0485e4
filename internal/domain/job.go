package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Job is a unit of captioning work as it travels on the task queue.
type Job struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
}

// Completion is the notification a worker sends once a job's result is persisted.
type Completion struct {
	ID string `json:"id"`
}

// NewJob issues a job with a fresh random identifier.
// Submitting the same URL twice yields two distinct jobs.
func NewJob(sourceURL string) Job {
	return Job{
		ID:        uuid.NewString(),
		SourceURL: sourceURL,
	}
}

// Encode serializes the job into its task queue payload.
func (j Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a task queue payload.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if job.ID == "" || job.SourceURL == "" {
		return Job{}, fmt.Errorf("%w: job requires id and source_url", ErrMalformedMessage)
	}
	return job, nil
}

// Encode serializes the completion into its completion queue payload.
func (c Completion) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion: %w", err)
	}
	return data, nil
}

// DecodeCompletion parses a completion queue payload.
func DecodeCompletion(body []byte) (Completion, error) {
	var c Completion
	if err := json.Unmarshal(body, &c); err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if c.ID == "" {
		return Completion{}, fmt.Errorf("%w: completion requires id", ErrMalformedMessage)
	}
	return c, nil
}

// Package service exposes the submission API consumed by the HTTP adapter.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dontdude/imgcap/internal/domain"
)

// Submitter hands a job to the broker and returns its id.
type Submitter interface {
	Submit(ctx context.Context, sourceURL string) (string, error)
}

// CompletedLister reports finished jobs.
type CompletedLister interface {
	Contains(id string) bool
	List() []string
}

// Images is the submission API: enqueue captioning jobs, list completed jobs and fetch results.
type Images struct {
	submitter Submitter
	completed CompletedLister
	store     domain.ResultStore
	logger    *slog.Logger
}

// NewImages wires the submission API.
func NewImages(submitter Submitter, completed CompletedLister, store domain.ResultStore, logger *slog.Logger) *Images {
	return &Images{
		submitter: submitter,
		completed: completed,
		store:     store,
		logger:    logger,
	}
}

// Submit enqueues a captioning job for sourceURL.
func (s *Images) Submit(ctx context.Context, sourceURL string) (string, error) {
	id, err := s.submitter.Submit(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "Image submitted", "jobID", id)
	return id, nil
}

// Completed returns the ids of completed jobs in completion order.
func (s *Images) Completed() []string {
	return s.completed.List()
}

// IsCompleted reports whether the completion for id has been observed.
func (s *Images) IsCompleted(id string) bool {
	return s.completed.Contains(id)
}

// Result returns the stored result for id. ok is false when no result exists yet.
func (s *Images) Result(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := s.store.Get(ctx, id)
	if errors.Is(err, domain.ErrResultNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

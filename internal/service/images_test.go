package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dontdude/imgcap/internal/completion"
	"github.com/dontdude/imgcap/internal/platform/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubmitter struct {
	id  string
	err error
	got string
}

func (s *stubSubmitter) Submit(ctx context.Context, sourceURL string) (string, error) {
	s.got = sourceURL
	return s.id, s.err
}

func newImages(sub *stubSubmitter) (*Images, *completion.Set, *store.Memory) {
	set := completion.NewSet()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewImages(sub, set, mem, logger), set, mem
}

func TestImages_Submit(t *testing.T) {
	sub := &stubSubmitter{id: "job-1"}
	images, _, _ := newImages(sub)

	id, err := images.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, "http://x/a.jpg", sub.got)
}

func TestImages_SubmitError(t *testing.T) {
	boom := errors.New("buffer full")
	images, _, _ := newImages(&stubSubmitter{err: boom})

	_, err := images.Submit(context.Background(), "http://x/a.jpg")
	assert.ErrorIs(t, err, boom)
}

func TestImages_CompletedAndResult(t *testing.T) {
	images, set, mem := newImages(&stubSubmitter{})
	ctx := context.Background()

	_, ok, err := images.Result(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, images.Completed())

	require.NoError(t, mem.Put(ctx, "job-1", []byte("12345678")))
	set.Add("job-1")

	data, ok, err := images.Result(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12345678", string(data))
	assert.Equal(t, []string{"job-1"}, images.Completed())
	assert.True(t, images.IsCompleted("job-1"))
}

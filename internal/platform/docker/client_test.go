package docker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/image"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCaptioner needs a reachable Docker daemon and IMGCAP_TEST_DOCKER=1, since the test
// pulls a public image.
func newTestCaptioner(t *testing.T, opts Options) *Captioner {
	t.Helper()
	if os.Getenv("IMGCAP_TEST_DOCKER") == "" {
		t.Skip("IMGCAP_TEST_DOCKER not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewCaptioner(context.Background(), opts, logger)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCaptioner_EchoesStdout(t *testing.T) {
	c := newTestCaptioner(t, Options{
		Image:    "alpine:3.20",
		Command:  []string{"echo", "caption for"},
		MemoryMB: 64,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	caption, err := c.Caption(ctx, "http://x/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "caption for http://x/a.jpg", caption)
}

func TestCaptioner_NonZeroExit(t *testing.T) {
	c := newTestCaptioner(t, Options{
		Image:   "alpine:3.20",
		Command: []string{"sh", "-c", "echo bad url >&2; exit 3", "--"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := c.Caption(ctx, "http://x/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "bad url")
}

type flakyPuller struct {
	failures int
	calls    int
}

func (p *flakyPuller) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("registry unavailable")
	}
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func TestCaptioner_PullRetriesAfterFailure(t *testing.T) {
	puller := &flakyPuller{failures: 2}
	c := &Captioner{
		puller: puller,
		opts:   Options{Image: "alpine:3.20"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ctx := context.Background()

	assert.Error(t, c.pull(ctx))
	assert.Error(t, c.pull(ctx))
	require.NoError(t, c.pull(ctx))
	require.NoError(t, c.pull(ctx))

	assert.Equal(t, 3, puller.calls, "a successful pull is not repeated")
}

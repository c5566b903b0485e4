// Package gemini captions images with Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dontdude/imgcap/internal/domain"
	"google.golang.org/genai"
)

// maxImageBytes bounds the image download sent inline to the model.
const maxImageBytes = 20 << 20

var (
	ErrInvalidConfig = errors.New("invalid gemini configuration")
	ErrEmptyCaption  = errors.New("model returned no caption")
)

// Options configures the Gemini captioner.
type Options struct {
	APIKey string
	Model  string
	Prompt string
}

// generator is the subset of the genai client the captioner needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Captioner downloads the image and asks the model for a caption.
type Captioner struct {
	models generator
	http   *http.Client
	opts   Options
	logger *slog.Logger
}

var _ domain.Captioner = (*Captioner)(nil)

// NewCaptioner creates a Gemini API client.
func NewCaptioner(ctx context.Context, opts Options, logger *slog.Logger) (*Captioner, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newCaptioner(client.Models, http.DefaultClient, opts, logger), nil
}

func newCaptioner(models generator, httpClient *http.Client, opts Options, logger *slog.Logger) *Captioner {
	if opts.Prompt == "" {
		opts.Prompt = "Write a one-sentence caption for this image."
	}
	return &Captioner{models: models, http: httpClient, opts: opts, logger: logger}
}

// Caption fetches sourceURL and sends it inline with the prompt.
func (c *Captioner) Caption(ctx context.Context, sourceURL string) (string, error) {
	data, mimeType, err := c.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: c.opts.Prompt},
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
		},
	}}

	c.logger.DebugContext(ctx, "Making Gemini API call", "model", c.opts.Model, "image_bytes", len(data))
	resp, err := c.models.GenerateContent(ctx, c.opts.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	caption := strings.TrimSpace(responseText(resp))
	if caption == "" {
		return "", ErrEmptyCaption
	}
	return caption, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (c *Captioner) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return data, mimeType, nil
}

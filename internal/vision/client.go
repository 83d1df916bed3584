// Package vision describes document imagery with an OpenAI-compatible
// vision-language model endpoint. PDFs are rasterized page by page with
// pdftoppm and each page image is captioned; standalone images are
// captioned directly.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Description is the model's answer for one image: a one-sentence
// summary followed by a detail paragraph.
type Description struct {
	Summary string
	Detail  string
}

const (
	promptFull = "State in one sentence what this image shows, without any prefix. " +
		"Then describe the image contents in detail in a single paragraph, " +
		"with no bullet points and no prefixes."
	promptBrief = "State in one sentence what this image shows, without any prefix."

	maxReplyTokens = 512
)

// Client talks to a chat-completions endpoint that accepts image
// content parts (vLLM, sglang, or the real OpenAI API).
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	log      logging.Logger
}

func NewClient(cfg config.VisionConfig, log logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// Describe captions one image. detailLevel "brief" asks for the summary
// sentence only; anything else gets the full two-part prompt.
func (c *Client) Describe(ctx context.Context, image []byte, detailLevel string) (Description, error) {
	prompt := promptFull
	if detailLevel == "brief" {
		prompt = promptBrief
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageRef{URL: dataURL(image)}},
				{Type: "text", Text: prompt},
			},
		}},
		MaxTokens:   maxReplyTokens,
		Temperature: 0,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Description{}, fmt.Errorf("encode vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Description{}, fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Description{}, fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Description{}, fmt.Errorf("read vision response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Description{}, fmt.Errorf("vision endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Description{}, fmt.Errorf("decode vision response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Description{}, fmt.Errorf("vision response had no choices")
	}

	c.log.Debug("image described",
		"model", c.model,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"image_bytes", len(image),
	)
	return parseReply(parsed.Choices[0].Message.Content), nil
}

func dataURL(image []byte) string {
	mimeType := http.DetectContentType(image)
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// parseReply splits the model output into summary (first line) and
// detail (the rest, flattened to one paragraph). Models sometimes lead
// the detail with a label or list marker despite the prompt, so those
// are stripped.
func parseReply(text string) Description {
	text = strings.TrimSpace(text)
	summary, rest, _ := strings.Cut(text, "\n")
	summary = strings.TrimSpace(summary)

	detail := strings.TrimSpace(rest)
	if detail == "" {
		detail = summary
	}
	for _, prefix := range []string{"Detailed description:", "Description:", "Detail:", "1.", "2.", "- "} {
		if strings.HasPrefix(detail, prefix) {
			detail = strings.TrimSpace(strings.TrimPrefix(detail, prefix))
		}
	}
	detail = strings.ReplaceAll(detail, "- ", "")
	detail = strings.Join(strings.Fields(detail), " ")

	return Description{Summary: summary, Detail: detail}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

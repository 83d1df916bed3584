package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// tiny valid PNG header so content-type detection sees image/png
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func chatReply(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestClient_Describe(t *testing.T) {
	var gotBody chatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(chatReply("A bar chart of quarterly revenue.\nThe chart shows four bars rising from left to right."))); err != nil {
			t.Errorf("write reply: %v", err)
		}
	}))
	defer srv.Close()

	c := NewClient(config.VisionConfig{
		Endpoint: srv.URL,
		APIKey:   "secret",
		Model:    "qwen-vl",
	}, logging.New("error", "text"))

	desc, err := c.Describe(context.Background(), pngBytes, "full")
	require.NoError(t, err)
	require.Equal(t, "A bar chart of quarterly revenue.", desc.Summary)
	require.Equal(t, "The chart shows four bars rising from left to right.", desc.Detail)

	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "qwen-vl", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	require.Len(t, gotBody.Messages[0].Content, 2)

	img := gotBody.Messages[0].Content[0]
	require.Equal(t, "image_url", img.Type)
	require.NotNil(t, img.ImageURL)
	require.True(t, strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,"))

	text := gotBody.Messages[0].Content[1]
	require.Equal(t, "text", text.Type)
	require.Equal(t, promptFull, text.Text)
}

func TestClient_Describe_BriefPrompt(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(chatReply("A cat on a sofa.")))
	}))
	defer srv.Close()

	c := NewClient(config.VisionConfig{Endpoint: srv.URL, Model: "qwen-vl"}, logging.New("error", "text"))

	desc, err := c.Describe(context.Background(), pngBytes, "brief")
	require.NoError(t, err)
	require.Equal(t, promptBrief, gotBody.Messages[0].Content[1].Text)
	require.Equal(t, "A cat on a sofa.", desc.Summary)
	require.Equal(t, "A cat on a sofa.", desc.Detail)
}

func TestClient_Describe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.VisionConfig{Endpoint: srv.URL, Model: "qwen-vl"}, logging.New("error", "text"))

	_, err := c.Describe(context.Background(), pngBytes, "full")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestClient_Describe_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(config.VisionConfig{Endpoint: srv.URL, Model: "qwen-vl"}, logging.New("error", "text"))

	_, err := c.Describe(context.Background(), pngBytes, "full")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		reply   string
		summary string
		detail  string
	}{
		{
			name:    "two parts",
			reply:   "A diagram.\nIt shows boxes and arrows.",
			summary: "A diagram.",
			detail:  "It shows boxes and arrows.",
		},
		{
			name:    "single line",
			reply:   "Just a photo of a dog.",
			summary: "Just a photo of a dog.",
			detail:  "Just a photo of a dog.",
		},
		{
			name:    "labelled detail",
			reply:   "A table.\nDetailed description: Rows of numbers.",
			summary: "A table.",
			detail:  "Rows of numbers.",
		},
		{
			name:    "bulleted detail flattened",
			reply:   "A list.\n- first item\n- second item",
			summary: "A list.",
			detail:  "first item second item",
		},
		{
			name:    "surrounding whitespace",
			reply:   "\n  A map.  \n  Streets and rivers.  \n",
			summary: "A map.",
			detail:  "Streets and rivers.",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := parseReply(c.reply)
			require.Equal(t, c.summary, got.Summary)
			require.Equal(t, c.detail, got.Detail)
		})
	}
}

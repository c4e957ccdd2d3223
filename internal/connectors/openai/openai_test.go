package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/postloom/internal/connectors"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(connectors.Settings{})
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(connectors.Settings{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, defaultTextModel, c.Model())
	assert.Equal(t, defaultImageModel, c.imageModel)
	assert.Equal(t, defaultImageSize, c.imageSize)
	assert.Equal(t, "openai", c.Name())
}

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["model"] == "broken" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Fresh caption"}}]}`))
		case strings.HasSuffix(r.URL.Path, "/images/generations"):
			_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://cdn.example.com/img.png"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateText(t *testing.T) {
	srv := newFakeAPI(t)
	c, err := New(connectors.Settings{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	text, err := c.GenerateText(context.Background(), connectors.Prompt{System: "be brief", User: "Title: x"})
	require.NoError(t, err)
	assert.Equal(t, "Fresh caption", text)
}

func TestGenerateText_APIError(t *testing.T) {
	srv := newFakeAPI(t)
	c, err := New(connectors.Settings{APIKey: "sk-test", BaseURL: srv.URL + "/", TextModel: "broken"})
	require.NoError(t, err)

	_, err = c.GenerateText(context.Background(), connectors.Prompt{User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}

func TestGenerateImage(t *testing.T) {
	srv := newFakeAPI(t)
	c, err := New(connectors.Settings{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	url, err := c.GenerateImage(context.Background(), "a lighthouse at dusk")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img.png", url)
}

package parsing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeVisionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func configureVisionEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv(EnvVisionAPIBase, baseURL)
	t.Setenv(EnvVisionModel, "test-vision-model")
	t.Setenv(EnvVisionAPIKey, "test-key")
}

func TestNewVisionClient_RequiresConfiguration(t *testing.T) {
	t.Setenv(EnvVisionModel, "")
	t.Setenv(EnvVisionAPIKey, "")

	_, err := NewVisionClient(testLogger())
	assert.Error(t, err)
	assert.False(t, IsVisionConfigured())
}

func TestVisionClient_ExtractsMarkdown(t *testing.T) {
	var captured map[string]any
	server := newFakeVisionServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "# Page Heading\n\n| a | b |"}},
			},
		})
	})
	configureVisionEnv(t, server.URL)

	client, err := NewVisionClient(testLogger())
	require.NoError(t, err)

	text, err := client.Extract(context.Background(), Page{Index: 0, Data: []byte{0x89, 0x50}, MIME: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "# Page Heading\n\n| a | b |", text)

	// The page image travels as a data URI content part.
	assert.Equal(t, "test-vision-model", captured["model"])
	payload, err := json.Marshal(captured["messages"])
	require.NoError(t, err)
	assert.Contains(t, string(payload), "data:image/png;base64,")
}

func TestVisionClient_ServerErrorIsExtractionError(t *testing.T) {
	server := newFakeVisionServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
	})
	configureVisionEnv(t, server.URL)

	client, err := NewVisionClient(testLogger())
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), Page{Index: 4, Data: []byte{0x1}, MIME: "image/png"})
	require.Error(t, err)

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, 4, extractionErr.Page)
}

func TestVisionClient_EmptyChoicesIsExtractionError(t *testing.T) {
	server := newFakeVisionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-test", "object": "chat.completion", "choices": []}`))
	})
	configureVisionEnv(t, server.URL)

	client, err := NewVisionClient(testLogger())
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), Page{Index: 0, Data: []byte{0x1}, MIME: "image/png"})
	var extractionErr *ExtractionError
	assert.ErrorAs(t, err, &extractionErr)
}

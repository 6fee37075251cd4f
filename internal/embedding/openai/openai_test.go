package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedOpenAIAndOllamaShapes(t *testing.T) {
	for name, body := range map[string]string{
		"openai": `{"data":[{"embedding":[0.1,0.2,0.3]}]}`,
		"ollama": `{"embedding":[0.1,0.2,0.3]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/embeddings", r.URL.Path)
				var req embedRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "nomic-embed-text", req.Model)
				assert.Equal(t, "payload of UR5e", req.Input)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			c, err := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKeyEnv: "RAGAGENT_TEST_UNSET_KEY", Model: "nomic-embed-text"})
			require.NoError(t, err)
			v, err := c.EmbedQuery(context.Background(), "payload of UR5e")
			require.NoError(t, err)
			assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
		})
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "RAGAGENT_TEST_UNSET_KEY"})
	require.NoError(t, err)
	_, err = c.EmbedText(context.Background(), "x")
	assert.EqualError(t, err, "no embedding returned")
}

func TestNewClientRequiresKeyForOpenAI(t *testing.T) {
	t.Setenv("RAGAGENT_TEST_UNSET_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "RAGAGENT_TEST_UNSET_KEY"})
	assert.Error(t, err)
}

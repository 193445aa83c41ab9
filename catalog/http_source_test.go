package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPSourceListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"model":"gpt-4o","model_provider":"openai","inference_provider":{"kind":"openai"},"model_name":"gpt-4o"}]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil)
	models, err := src.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "gpt-4o", models[0].Model)
	require.Equal(t, InferenceProviderOpenAI, models[0].InferenceProvider.Kind)
}

func TestHTTPSourceListModelsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil)
	_, err := src.ListModels(context.Background())
	require.Error(t, err)
}

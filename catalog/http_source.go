package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPSource is a Source backed by a plain JSON HTTP endpoint: a GET
// against URL returning a JSON array of ModelMetadata. Grounded on
// storage/clickhouse.Writer's choice of net/http + encoding/json for a
// wire format with no example repo client library — the model catalog
// sync endpoint (spec §6) is this gateway's own service, not a
// third-party API with an existing SDK in the pack.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource constructs an HTTPSource polling url. A nil client uses
// http.DefaultClient.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: url, httpClient: client}
}

// ListModels implements Source.
func (s *HTTPSource) ListModels(ctx context.Context) ([]*ModelMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: building request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: %s returned status %d", s.url, resp.StatusCode)
	}

	var models []*ModelMetadata
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("catalog: decoding response from %s: %w", s.url, err)
	}
	return models, nil
}

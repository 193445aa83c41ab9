package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vllora/gateway/catalog"
)

// modelExtra carries every ModelMetadata field not already broken out into
// its own schema column (capabilities_json, spec §6).
type modelExtra struct {
	InferenceProvider catalog.InferenceProvider        `json:"inference_provider"`
	ModelName         string                            `json:"model_name"`
	Endpoint          string                            `json:"endpoint,omitempty"`
	Capabilities      map[catalog.Capability]struct{}   `json:"capabilities,omitempty"`
	InputFormats      map[catalog.Modality]struct{}     `json:"input_formats,omitempty"`
	OutputFormats     map[catalog.Modality]struct{}     `json:"output_formats,omitempty"`
	Type              catalog.ModelType                 `json:"type"`
	CutoffDate        *time.Time                        `json:"cutoff_date,omitempty"`
}

// SaveModel upserts a project-scoped (or default, when projectID is empty)
// catalog override.
func (s *Store) SaveModel(ctx context.Context, projectID string, md *catalog.ModelMetadata) error {
	price, err := json.Marshal(md.Price)
	if err != nil {
		return fmt.Errorf("sqlite: marshal price: %w", err)
	}
	limits, err := json.Marshal(md.Limits)
	if err != nil {
		return fmt.Errorf("sqlite: marshal limits: %w", err)
	}
	extra, err := json.Marshal(modelExtra{
		InferenceProvider: md.InferenceProvider,
		ModelName:         md.ModelName,
		Endpoint:          md.Endpoint,
		Capabilities:      md.Capabilities,
		InputFormats:      md.InputFormats,
		OutputFormats:     md.OutputFormats,
		Type:              md.Type,
		CutoffDate:        md.CutoffDate,
	})
	if err != nil {
		return fmt.Errorf("sqlite: marshal capabilities: %w", err)
	}

	var releaseDate any
	if md.ReleaseDate != nil {
		releaseDate = md.ReleaseDate.Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (name, project_id, provider, price_json, limits_json, capabilities_json, is_deleted, release_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, project_id) DO UPDATE SET
			provider = excluded.provider,
			price_json = excluded.price_json,
			limits_json = excluded.limits_json,
			capabilities_json = excluded.capabilities_json,
			is_deleted = excluded.is_deleted,
			release_date = excluded.release_date`,
		md.Model, projectID, md.ModelProvider, string(price), string(limits), string(extra),
		boolToInt(md.IsDeleted), releaseDate)
	if err != nil {
		return fmt.Errorf("sqlite: save model: %w", err)
	}
	return nil
}

// ListModels returns every non-deleted override row for projectID (pass ""
// for the default catalog), seeding catalog.Manager on startup.
func (s *Store) ListModels(ctx context.Context, projectID string) ([]*catalog.ModelMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, provider, price_json, limits_json, capabilities_json, is_deleted, release_date
		FROM models WHERE project_id = ? AND is_deleted = 0`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list models: %w", err)
	}
	defer rows.Close()

	var out []*catalog.ModelMetadata
	for rows.Next() {
		md, err := scanModel(rows, projectID)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func scanModel(rows *sql.Rows, projectID string) (*catalog.ModelMetadata, error) {
	var md catalog.ModelMetadata
	var price, limits, extraJSON string
	var isDeleted int
	var releaseDate sql.NullString

	if err := rows.Scan(&md.Model, &md.ModelProvider, &price, &limits, &extraJSON, &isDeleted, &releaseDate); err != nil {
		return nil, fmt.Errorf("sqlite: scan model: %w", err)
	}
	if err := json.Unmarshal([]byte(price), &md.Price); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal price_json: %w", err)
	}
	if err := json.Unmarshal([]byte(limits), &md.Limits); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal limits_json: %w", err)
	}
	var extra modelExtra
	if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal capabilities_json: %w", err)
	}
	md.InferenceProvider = extra.InferenceProvider
	md.ModelName = extra.ModelName
	md.Endpoint = extra.Endpoint
	md.Capabilities = extra.Capabilities
	md.InputFormats = extra.InputFormats
	md.OutputFormats = extra.OutputFormats
	md.Type = extra.Type
	md.CutoffDate = extra.CutoffDate

	md.IsDeleted = isDeleted != 0
	md.ProjectID = projectID
	if releaseDate.Valid {
		t, err := time.Parse(time.RFC3339, releaseDate.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse release_date: %w", err)
		}
		md.ReleaseDate = &t
	}
	return &md, nil
}

// DeleteModel soft-deletes a project override (is_deleted = 1), matching
// the tombstone semantics ModelMetadata.IsDeleted exposes to callers.
func (s *Store) DeleteModel(ctx context.Context, projectID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE models SET is_deleted = 1 WHERE name = ? AND project_id = ?`, name, projectID)
	if err != nil {
		return fmt.Errorf("sqlite: delete model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete model rows affected: %w", err)
	}
	if n == 0 {
		return errors.New("sqlite: no such model override")
	}
	return nil
}

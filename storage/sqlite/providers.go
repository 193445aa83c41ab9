package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveProviderCredential upserts an encrypted credential blob for
// (name, projectID). cipher is the output of credentials.Store.Seal;
// plaintext never reaches this package (spec §7, §9).
func (s *Store) SaveProviderCredential(ctx context.Context, name, projectID string, cipher []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, project_id, credentials_cipher)
		VALUES (?, ?, ?)
		ON CONFLICT (name, project_id) DO UPDATE SET credentials_cipher = excluded.credentials_cipher`,
		name, projectID, cipher)
	if err != nil {
		return fmt.Errorf("sqlite: save provider credential: %w", err)
	}
	return nil
}

// LoadProviderCredential returns the encrypted credential blob for
// (name, projectID), if one is configured. Callers decrypt it via
// credentials.Store.Unseal before installing it with PutOwn/PutVllora.
func (s *Store) LoadProviderCredential(ctx context.Context, name, projectID string) ([]byte, bool, error) {
	var cipher []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT credentials_cipher FROM providers WHERE name = ? AND project_id = ?`,
		name, projectID).Scan(&cipher)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlite: load provider credential: %w", err)
	}
	return cipher, true, nil
}

// ListProviderNames returns every provider name configured for projectID
// (pass "" for operator-shared "vllora" credentials), used to seed a
// credentials.Store on startup.
func (s *Store) ListProviderNames(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM providers WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list provider names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan provider name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

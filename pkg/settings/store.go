package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/db"
)

// Store provides database operations for system settings.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a settings Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const settingColumns = `name, value, label, updated_at`

func scanSettingRow(row pgx.Row) (Setting, error) {
	var s Setting
	err := row.Scan(&s.Name, &s.Value, &s.Label, &s.UpdatedAt)
	return s, err
}

// Get returns a single setting by name.
func (s *Store) Get(ctx context.Context, name string) (Setting, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+settingColumns+` FROM system_settings WHERE name = $1`, name)
	return scanSettingRow(row)
}

// List returns all settings ordered by name.
func (s *Store) List(ctx context.Context) ([]Setting, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+settingColumns+` FROM system_settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var items []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Name, &st.Value, &st.Label, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}
	return items, nil
}

// Set upserts a setting value.
func (s *Store) Set(ctx context.Context, name, value string) (Setting, error) {
	row := s.dbtx.QueryRow(ctx, `INSERT INTO system_settings (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		RETURNING `+settingColumns, name, value)
	return scanSettingRow(row)
}

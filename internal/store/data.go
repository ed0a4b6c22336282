package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Get returns the value stored under key for a plugin, decoded to the Go
// types of structpb.Value.AsInterface: nil, bool, float64, string,
// []any or map[string]any.
func (s *Store) Get(ctx context.Context, pluginID, key string) (any, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM plugin_data WHERE plugin_id = ? AND key = ?`,
		pluginID, key,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", pluginID, key, err)
	}

	var v structpb.Value
	if err := proto.Unmarshal(blob, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", pluginID, key, err)
	}
	return v.AsInterface(), nil
}

// Set stores value under key for a plugin, replacing any previous value.
// value must be representable as JSON.
func (s *Store) Set(ctx context.Context, pluginID, key string, value any) error {
	v, err := structpb.NewValue(value)
	if err != nil {
		return fmt.Errorf("unsupported value for %s/%s: %w", pluginID, key, err)
	}
	blob, err := proto.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", pluginID, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plugin_data (plugin_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (plugin_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		pluginID, key, blob, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", pluginID, key, err)
	}
	return nil
}

// Delete removes one key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, pluginID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?`,
		pluginID, key,
	)
	return err
}

// Keys lists the keys a plugin has stored, in order.
func (s *Store) Keys(ctx context.Context, pluginID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM plugin_data WHERE plugin_id = ? ORDER BY key`,
		pluginID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Purge removes every value stored by a plugin.
func (s *Store) Purge(ctx context.Context, pluginID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugin_data WHERE plugin_id = ?`, pluginID); err != nil {
		return fmt.Errorf("failed to purge data of %s: %w", pluginID, err)
	}
	return nil
}

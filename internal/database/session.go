package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
)

var _ credential.SessionStore = (*SQLiteStore)(nil)

// LoadSession returns the stored session, or nil when none is stored.
func (s *SQLiteStore) LoadSession(
	ctx context.Context,
) (
	*credential.Session,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sealed
		FROM session
		WHERE id=1;`,
	)

	var sealed []byte
	err := row.Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan session: %v", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("couldn't unseal session: %w", err)
	}

	session := new(credential.Session)
	if err := json.Unmarshal(plaintext, session); err != nil {
		return nil, fmt.Errorf("couldn't decode session: %v", err)
	}
	return session, nil
}

func (s *SQLiteStore) SaveSession(
	ctx context.Context,
	session *credential.Session,
) error {
	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("couldn't encode session: %v", err)
	}
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("couldn't seal session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session (id, sealed, updated)
		VALUES (1, ?1, ?2)
		ON CONFLICT (id) DO UPDATE
		SET sealed=excluded.sealed, updated=excluded.updated;`,
		sealed,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("couldn't upsert session: %v", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSession(
	ctx context.Context,
) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session;`); err != nil {
		return fmt.Errorf("couldn't delete session: %v", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

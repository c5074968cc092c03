package history

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	apperrors "voice-assistant/backend/pkg/errors"
	"voice-assistant/backend/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps turns in the chat_messages table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to databaseURL and returns a store. Call Migrate
// before first use on a fresh database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.Get(),
	}, nil
}

// Migrate applies the embedded goose migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply history migrations: %w", err)
	}

	s.logger.Info("History schema is up to date")
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) GetRecent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	// LIMIT NULL means no limit
	var limit *int
	if n > 0 {
		limit = &n
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, COALESCE(user_id, ''), created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, apperrors.NewHistoryStoreFailed("get_recent", sessionID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&role, &t.Content, &t.UserID, &t.Timestamp); err != nil {
			return nil, apperrors.NewHistoryStoreFailed("get_recent", sessionID, err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewHistoryStoreFailed("get_recent", sessionID, err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, role Role, content, userID string) error {
	var uid *string
	if userID != "" {
		uid = &userID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), sessionID, string(role), content, uid, time.Now().UTC())
	if err != nil {
		return apperrors.NewHistoryStoreFailed("append", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return apperrors.NewHistoryStoreFailed("clear", sessionID, err)
	}
	s.logger.Debug("Cleared chat history",
		zap.String("session_id", sessionID),
		zap.Int64("deleted", tag.RowsAffected()))
	return nil
}

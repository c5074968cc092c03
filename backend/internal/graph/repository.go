// Package graph keeps chat history in Neo4j. Each session is a Conversation
// node that CONTAINS its Message nodes; authenticated users are linked with
// PARTICIPATED_IN and SENT.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/history"
	apperrors "voice-assistant/backend/pkg/errors"
	"voice-assistant/backend/pkg/logger"
)

// Schema lists the constraints and indexes the repository relies on
var Schema = []string{
	`CREATE CONSTRAINT conversation_session_id IF NOT EXISTS FOR (c:Conversation) REQUIRE c.session_id IS UNIQUE`,
	`CREATE CONSTRAINT message_id IF NOT EXISTS FOR (m:Message) REQUIRE m.id IS UNIQUE`,
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE INDEX message_seq IF NOT EXISTS FOR (m:Message) ON (m.seq)`,
}

// Repository is a history.Store backed by Neo4j
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
	now    func() time.Time
}

var _ history.Store = (*Repository)(nil)

// Connect creates a driver and verifies the server is reachable
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}
	return driver, nil
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Get(),
		now:    time.Now,
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema applies every Schema statement. The statements are idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, stmt := range Schema {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	r.logger.Info("History graph schema is up to date", zap.Int("statements", len(Schema)))
	return nil
}

// GetRecent returns the last n turns of a session, oldest first
func (r *Repository) GetRecent(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (:Conversation {session_id: $sessionID})-[:CONTAINS]->(m:Message)
		RETURN m.role AS role, m.content AS content,
		       coalesce(m.user_id, '') AS user_id, m.timestamp AS timestamp
		ORDER BY m.seq DESC
	`
	params := map[string]interface{}{"sessionID": sessionID}
	if n > 0 {
		query += ` LIMIT $limit`
		params["limit"] = n
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewHistoryStoreFailed("get_recent", sessionID, err)
	}

	var turns []history.Turn
	for result.Next(ctx) {
		turns = append(turns, turnFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewHistoryStoreFailed("get_recent", sessionID, err)
	}

	reverseTurns(turns)
	return turns, nil
}

// Append adds one message to the session's conversation
func (r *Repository) Append(ctx context.Context, sessionID string, role history.Role, content, userID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := r.now().UTC().Format(time.RFC3339Nano)

	query := `
		MERGE (c:Conversation {session_id: $sessionID})
		ON CREATE SET c.id = $convID, c.started_at = datetime($now), c.message_count = 0
		SET c.message_count = c.message_count + 1,
		    c.updated_at = datetime($now)

		CREATE (m:Message {
			id: $msgID,
			content: $content,
			role: $role,
			user_id: $userID,
			seq: c.message_count,
			timestamp: datetime($now)
		})
		CREATE (c)-[:CONTAINS]->(m)

		WITH c, m
		FOREACH (ignored IN CASE WHEN $userID <> '' THEN [1] ELSE [] END |
			MERGE (u:User {id: $userID})
			MERGE (u)-[:PARTICIPATED_IN]->(c)
			MERGE (u)-[:SENT]->(m)
		)
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sessionID": sessionID,
		"convID":    uuid.New().String(),
		"msgID":     uuid.New().String(),
		"content":   content,
		"role":      string(role),
		"userID":    userID,
		"now":       now,
	})
	if err != nil {
		return apperrors.NewHistoryStoreFailed("append", sessionID, err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return apperrors.NewHistoryStoreFailed("append", sessionID, err)
	}
	return nil
}

// Clear deletes the conversation and its messages. Users are kept.
func (r *Repository) Clear(ctx context.Context, sessionID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (c:Conversation {session_id: $sessionID})
		OPTIONAL MATCH (c)-[:CONTAINS]->(m:Message)
		DETACH DELETE m, c
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"sessionID": sessionID})
	if err != nil {
		return apperrors.NewHistoryStoreFailed("clear", sessionID, err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return apperrors.NewHistoryStoreFailed("clear", sessionID, err)
	}

	r.logger.Debug("Cleared chat history",
		zap.String("session_id", sessionID),
		zap.Int("deleted_nodes", summary.Counters().NodesDeleted()))
	return nil
}

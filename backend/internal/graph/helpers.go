package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"voice-assistant/backend/internal/history"
)

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	switch t := val.(type) {
	case time.Time:
		return t.UTC()
	case neo4j.LocalDateTime:
		return t.Time().UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func turnFromRecord(record *neo4j.Record) history.Turn {
	return history.Turn{
		Role:      history.Role(getStringFromRecord(record, "role")),
		Content:   getStringFromRecord(record, "content"),
		UserID:    getStringFromRecord(record, "user_id"),
		Timestamp: getTimeFromRecord(record, "timestamp"),
	}
}

// reverseTurns flips newest-first query results into chronological order
func reverseTurns(turns []history.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/pkg/models"
)

// PostgresStore implements Store on Postgres. Sessions are one row with the
// mutable state serialized as JSONB; transcripts are append-only rows.
type PostgresStore struct {
	db *sql.DB

	stmtGet       *sql.Stmt
	stmtGetByKey  *sql.Stmt
	stmtInsert    *sql.Stmt
	stmtSave      *sql.Stmt
	stmtAppend    *sql.Stmt
	stmtHistory   *sql.Stmt
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    session_key TEXT UNIQUE NOT NULL,
    business_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    channel_user_id TEXT NOT NULL,
    state JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at);

CREATE TABLE IF NOT EXISTS transcript_entries (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    grounding TEXT,
    message_type TEXT,
    guardrail_action TEXT,
    tool_calls JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries (session_id, created_at);
`

// NewPostgresStore connects, applies the schema, and prepares statements.
func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) prepare(ctx context.Context) error {
	var err error
	prepared := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.stmtGet, `SELECT state, created_at, updated_at FROM sessions WHERE id = $1`},
		{&s.stmtGetByKey, `SELECT state, created_at, updated_at FROM sessions WHERE session_key = $1`},
		{&s.stmtInsert, `INSERT INTO sessions (id, session_key, business_id, channel, channel_user_id, state) VALUES ($1, $2, $3, $4, $5, $6)`},
		{&s.stmtSave, `UPDATE sessions SET state = $2, updated_at = now() WHERE id = $1`},
		{&s.stmtAppend, `INSERT INTO transcript_entries (id, session_id, role, content, grounding, message_type, guardrail_action, tool_calls, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`},
		{&s.stmtHistory, `SELECT id, role, content, grounding, message_type, guardrail_action, tool_calls, created_at FROM transcript_entries WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`},
	}
	for _, p := range prepared {
		if *p.stmt, err = s.db.PrepareContext(ctx, p.sql); err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get loads a session by ID without creating.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSession(s.stmtGet.QueryRowContext(ctx, id))
}

// GetOrCreate loads or creates the session for a lookup key.
func (s *PostgresStore) GetOrCreate(ctx context.Context, key string, channel models.Channel, businessID, channelUserID string) (*models.Session, error) {
	session, err := s.scanSession(s.stmtGetByKey.QueryRowContext(ctx, key))
	if err == nil {
		return session, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	session = &models.Session{
		ID:            uuid.NewString(),
		BusinessID:    businessID,
		Channel:       channel,
		ChannelUserID: channelUserID,
		FlowStatus:    models.FlowIdle,
		Verification:  models.Verification{Status: models.VerificationNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.stmtInsert.ExecContext(ctx, session.ID, key, businessID, string(channel), channelUserID, state); err != nil {
		// A concurrent first-contact turn may have inserted the row; the
		// per-session locker prevents this within one process, but not
		// across processes.
		if existing, lookupErr := s.scanSession(s.stmtGetByKey.QueryRowContext(ctx, key)); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// Save writes the session state back.
func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	state, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.stmtSave.ExecContext(ctx, session.ID, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Append adds a transcript entry.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, entry *models.TranscriptEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var toolCalls any
	if len(entry.ToolCalls) > 0 {
		raw, err := json.Marshal(entry.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = raw
	}
	_, err := s.stmtAppend.ExecContext(ctx,
		entry.ID, sessionID, string(entry.Role), entry.Content,
		string(entry.Grounding), string(entry.MessageType), string(entry.GuardrailAction),
		toolCalls, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// History returns the last limit entries in chronological order.
func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]*models.TranscriptEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.TranscriptEntry
	for rows.Next() {
		var e models.TranscriptEntry
		var grounding, messageType, guardrail sql.NullString
		var toolCalls []byte
		if err := rows.Scan(&e.ID, &e.Role, &e.Content, &grounding, &messageType, &guardrail, &toolCalls, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.SessionID = sessionID
		e.Grounding = models.Grounding(grounding.String)
		e.MessageType = models.MessageType(messageType.String)
		e.GuardrailAction = models.GuardrailAction(guardrail.String)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &e.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; reverse to chronological.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return RepairHistory(entries), nil
}

// DeleteIdleBefore removes sessions idle since the cutoff.
func (s *PostgresStore) DeleteIdleBefore(ctx context.Context, cutoffUnix int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < to_timestamp($1)`, cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) scanSession(row *sql.Row) (*models.Session, error) {
	var state []byte
	var createdAt, updatedAt time.Time
	if err := row.Scan(&state, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	session.CreatedAt = createdAt
	session.UpdatedAt = updatedAt
	return &session, nil
}

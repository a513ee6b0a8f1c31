package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emotion_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			emotion_label TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			trigger_summary TEXT NOT NULL DEFAULT '',
			insight_summary TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS emotion_steps (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES emotion_sessions(id) ON DELETE CASCADE,
			step_order INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			user_input TEXT NOT NULL DEFAULT '',
			gpt_response TEXT NOT NULL DEFAULT '',
			insight_tag TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, step_order)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_emotion_steps_session_order ON emotion_steps (session_id, step_order);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID string) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		StartedAt: time.Now().UTC(),
	}
	var uid any
	if sess.UserID != "" {
		uid = sess.UserID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO emotion_sessions (id, user_id, started_at) VALUES ($1, $2, $3)`,
		sess.ID, uid, sess.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(user_id, ''), started_at, ended_at,
		        emotion_label, topic, trigger_summary, insight_summary
		 FROM emotion_sessions WHERE id = $1`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.EndedAt,
		&sess.EmotionLabel, &sess.Topic, &sess.TriggerSummary, &sess.InsightSummary)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) StepsBySession(ctx context.Context, sessionID string) ([]Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, step_order, step_type, user_input, gpt_response, insight_tag, created_at
		 FROM emotion_steps WHERE session_id = $1 ORDER BY step_order ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

func (s *PostgresStore) RecentSteps(ctx context.Context, sessionID string, limit int) ([]Step, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, step_order, step_type, user_input, gpt_response, insight_tag, created_at
		 FROM emotion_steps WHERE session_id = $1 ORDER BY step_order DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent steps: %w", err)
	}
	defer rows.Close()

	steps, err := scanSteps(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}

// CommitTurn writes the user step, assistant step, optional activity marker,
// and optional session-end flag in one transaction.
func (s *PostgresStore) CommitTurn(ctx context.Context, commit TurnCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	insert := `INSERT INTO emotion_steps
		(id, session_id, step_order, step_type, user_input, gpt_response, insight_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7)`

	if _, err := tx.Exec(ctx, insert,
		uuid.NewString(), commit.SessionID, commit.UserOrder, string(StepKindUser),
		commit.UserText, "", now); err != nil {
		return fmt.Errorf("insert user step: %w", err)
	}
	if _, err := tx.Exec(ctx, insert,
		uuid.NewString(), commit.SessionID, commit.AssistantOrder, string(StepKindAssistant),
		"", commit.AssistantText, now); err != nil {
		return fmt.Errorf("insert assistant step: %w", err)
	}
	if commit.AddActivityMarker {
		if _, err := tx.Exec(ctx, insert,
			uuid.NewString(), commit.SessionID, commit.AssistantOrder+1, string(StepKindActivity),
			"", "", now); err != nil {
			return fmt.Errorf("insert activity marker: %w", err)
		}
	}
	if commit.MarkSessionEnded {
		if _, err := tx.Exec(ctx,
			`UPDATE emotion_sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`,
			now, commit.SessionID); err != nil {
			return fmt.Errorf("mark session ended: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string, labels CloseLabels) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE emotion_sessions SET
			ended_at = COALESCE(ended_at, $1),
			emotion_label = CASE WHEN $2 <> '' THEN $2 ELSE emotion_label END,
			topic = CASE WHEN $3 <> '' THEN $3 ELSE topic END,
			trigger_summary = CASE WHEN $4 <> '' THEN $4 ELSE trigger_summary END,
			insight_summary = CASE WHEN $5 <> '' THEN $5 ELSE insight_summary END
		 WHERE id = $6`,
		time.Now().UTC(), labels.EmotionLabel, labels.Topic,
		labels.TriggerSummary, labels.InsightSummary, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSessionEnded(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE emotion_sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUserSteps(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM emotion_steps WHERE session_id = $1 AND step_type = $2`,
		sessionID, string(StepKindUser)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user steps: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HasActivityMarker(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM emotion_steps WHERE session_id = $1 AND step_type = $2)`,
		sessionID, string(StepKindActivity)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check activity marker: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SaveTasks(ctx context.Context, tasks []Task) ([]Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO tasks (id, user_id, title, description, created_at) VALUES ($1, $2, $3, $4, $5)`,
			task.ID, task.UserID, task.Title, task.Description, task.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		out = append(out, task)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tasks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSteps(rows pgx.Rows) ([]Step, error) {
	var steps []Step
	for rows.Next() {
		var st Step
		var kind string
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Order, &kind,
			&st.UserText, &st.AssistantText, &st.InsightTag, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		st.Kind = StepKind(kind)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step rows: %w", err)
	}
	return steps, nil
}

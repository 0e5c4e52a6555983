package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quizcha-live-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store keeps quizzes, users and system configs as JSONB documents, mirroring
// the document-store shape the core was specified against.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return decodeQuiz(quizID, raw)
}

func (s *Store) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM quizzes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quiz
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quiz, err := decodeQuiz(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, quiz)
	}
	return out, rows.Err()
}

// ClaimDueQuiz is the one operation that needs true atomicity at the storage
// layer: a single conditional UPDATE whose subquery locks the earliest due
// row. FOR UPDATE SKIP LOCKED makes concurrent pollers fall through to "no
// match" instead of claiming the same quiz twice.
func (s *Store) ClaimDueQuiz(ctx context.Context, date, hhmm string, startedAt time.Time) (domain.Quiz, error) {
	const claim = `
UPDATE quizzes
SET data = data || jsonb_build_object('isLive', true, 'startedAt', to_jsonb($3::text))
WHERE id = (
    SELECT id FROM quizzes
    WHERE data->>'date' = $1
      AND data->>'time' <= $2
      AND COALESCE((data->>'isLive')::boolean, false) = false
      AND COALESCE((data->>'completed')::boolean, false) = false
      AND (data->'startedAt' IS NULL OR data->'startedAt' = 'null'::jsonb)
    ORDER BY data->>'time' ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, data`

	var id string
	var raw []byte
	err := s.pool.QueryRow(ctx, claim, date, hhmm, startedAt.UTC().Format(time.RFC3339Nano)).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrNoDueQuiz
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("claim due quiz: %w", err)
	}
	return decodeQuiz(id, raw)
}

func (s *Store) SetQuestionIndex(ctx context.Context, quizID string, index int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET data = data || jsonb_build_object('currentQuestionIndex', $2::int) WHERE id=$1`,
		quizID, index)
	if err != nil {
		return fmt.Errorf("set question index: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) ReleaseClaim(ctx context.Context, quizID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET data = data || jsonb_build_object('isLive', false, 'startedAt', null) WHERE id=$1`,
		quizID)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) FinishQuiz(ctx context.Context, quizID string, participantIDs []string, endedAt time.Time) error {
	if participantIDs == nil {
		participantIDs = []string{}
	}
	participants, err := json.Marshal(participantIDs)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE quizzes
SET data = data || jsonb_build_object(
    'isLive', false,
    'currentQuestionIndex', -1,
    'completed', true,
    'endedAt', to_jsonb($2::text),
    'participants', $3::jsonb)
WHERE id=$1`,
		quizID, endedAt.UTC().Format(time.RFC3339Nano), participants)
	if err != nil {
		return fmt.Errorf("finish quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM users WHERE id=$1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	user.ID = userID
	return user, nil
}

// AdjustPoints increments the balance and appends the ledger entry in one
// UPDATE, so interleaved adjustments never lose a write.
func (s *Store) AdjustPoints(ctx context.Context, userID string, delta int, entry domain.WalletEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal wallet entry: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE users
SET data = jsonb_set(
    jsonb_set(data, '{points}', to_jsonb(COALESCE((data->>'points')::int, 0) + $2::int)),
    '{wallet}', COALESCE(data->'wallet', '[]'::jsonb) || $3::jsonb)
WHERE id=$1`,
		userID, delta, raw)
	if err != nil {
		return fmt.Errorf("adjust points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) LatestConfig(ctx context.Context) (domain.SystemConfig, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM system_configs ORDER BY id DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SystemConfig{}, false, nil
	}
	if err != nil {
		return domain.SystemConfig{}, false, fmt.Errorf("load system config: %w", err)
	}
	var cfg domain.SystemConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.SystemConfig{}, false, fmt.Errorf("unmarshal system config: %w", err)
	}
	return cfg, true, nil
}

func decodeQuiz(id string, raw []byte) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz.ID = id
	return quiz, nil
}

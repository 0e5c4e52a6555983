package app

import (
	"context"
	"time"

	"quizcha-live-service/internal/domain"
)

// QuizStore is the durable quiz collection as consumed by the core.
type QuizStore interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
	// ClaimDueQuiz atomically selects the earliest quiz matching
	// {date == date, time <= hhmm, not live, not completed, never started},
	// marks it live with the given start time, and returns the updated
	// document. Under concurrent claim attempts at most one caller wins for
	// a given quiz; losers get domain.ErrNoDueQuiz.
	ClaimDueQuiz(ctx context.Context, date, hhmm string, startedAt time.Time) (domain.Quiz, error)
	SetQuestionIndex(ctx context.Context, quizID string, index int) error
	// ReleaseClaim undoes a claim after a failed session start so no quiz is
	// left live without an active session.
	ReleaseClaim(ctx context.Context, quizID string) error
	// FinishQuiz records the outcome: participants, live=false, index=-1,
	// completed=true and the end timestamp.
	FinishQuiz(ctx context.Context, quizID string, participantIDs []string, endedAt time.Time) error
}

// UserStore is the durable user collection; the core reads users and
// atomically adjusts point balances with a ledger entry.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	AdjustPoints(ctx context.Context, userID string, delta int, entry domain.WalletEntry) error
}

// ConfigStore loads the most recent scoring configuration record. ok is
// false when no record exists and built-in defaults should be used.
type ConfigStore interface {
	LatestConfig(ctx context.Context) (cfg domain.SystemConfig, ok bool, err error)
}

// Presence marks which quiz is live for out-of-process observers. All calls
// are best-effort; failures must not affect the session.
type Presence interface {
	MarkLive(ctx context.Context, quizID string) error
	ClearLive(ctx context.Context, quizID string) error
}

// NoopPresence is used when no presence backend is configured.
type NoopPresence struct{}

func (NoopPresence) MarkLive(context.Context, string) error  { return nil }
func (NoopPresence) ClearLive(context.Context, string) error { return nil }

// Client is one connected participant endpoint. Send must not block; slow
// consumers are the transport's problem, not the session's.
type Client interface {
	ID() string
	Send(msgType string, payload any)
}

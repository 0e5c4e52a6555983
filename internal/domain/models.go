package domain

import "time"

// Phase describes what the live session is currently doing. The values are
// the wire strings clients see in state payloads.
type Phase string

const (
	PhaseIdle     Phase = "waiting"
	PhaseQuestion Phase = "question"
	PhaseAnswer   Phase = "answer"
	PhaseFinished Phase = "finished"
)

// Date and clock-time formats used for quiz scheduling. Both are compared as
// literal strings, so "now" must be rendered with these exact layouts.
const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04"
)

// Question models an MCQ question; CorrectAnswer must equal one of Options
// (enforced by the authoring side, not by storage).
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Quiz is the durable quiz document. CurrentQuestionIndex is -1 whenever the
// quiz is not actively presenting a question.
type Quiz struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	TimeLimitPerQuestion int        `json:"timeLimitPerQuestion"`
	Questions            []Question `json:"questions"`
	Date                 string     `json:"date"` // DD/MM/YYYY
	Time                 string     `json:"time"` // HH:mm, 24h
	IsLive               bool       `json:"isLive"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	Completed            bool       `json:"completed"`
	StartedAt            *time.Time `json:"startedAt"`
	EndedAt              *time.Time `json:"endedAt"`
	Participants         []string   `json:"participants,omitempty"`
}

// WalletEntry is one append-only credit/debit record on a user's ledger.
type WalletEntry struct {
	Type   string    `json:"type"` // "credit" or "debit"
	Amount int       `json:"amount"`
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

// NewWalletEntry builds a ledger entry from a signed point delta.
func NewWalletEntry(delta int, reason string, at time.Time) WalletEntry {
	entry := WalletEntry{Type: "credit", Amount: delta, Reason: reason, Date: at}
	if delta < 0 {
		entry.Type = "debit"
		entry.Amount = -delta
	}
	return entry
}

// User is the durable user document. The core only reads it and increments
// its point balance; identity and auth belong to another service.
type User struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Points   int           `json:"points"`
	Wallet   []WalletEntry `json:"wallet"`
}

// SystemConfig carries the scoring and timing parameters. It is loaded once
// at startup into an immutable snapshot; there is no live reload.
type SystemConfig struct {
	CorrectAnswerBase      int `json:"correctAnswerBase"`
	FastAnswerBonus        int `json:"fastAnswerBonus"`
	IncorrectAnswerPenalty int `json:"incorrectAnswerPenalty"` // negative
	TimeoutPenalty         int `json:"timeoutPenalty"`         // magnitude
	InitialPoints          int `json:"initialPoints"`
	AnswerTimeLimit        int `json:"answerTimeLimit"`     // seconds
	FastAnswerThreshold    int `json:"fastAnswerThreshold"` // seconds
}

// DefaultSystemConfig is the built-in fallback used when the durable store
// holds no configuration record.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		CorrectAnswerBase:      10,
		FastAnswerBonus:        15,
		IncorrectAnswerPenalty: -10,
		TimeoutPenalty:         10,
		InitialPoints:          100,
		AnswerTimeLimit:        8,
		FastAnswerThreshold:    5,
	}
}

// AnswerRecord fills a participant's per-question answer slot; a slot stays
// nil until answered or timed out, closing it to further submissions.
type AnswerRecord struct {
	Answer       string    `json:"answer"`
	Correct      bool      `json:"isCorrect"`
	PointsEarned int       `json:"pointsEarned"`
	Timestamp    time.Time `json:"timestamp"`
}

// AnswerResult is the reply sent to the submitting connection only.
// CorrectAnswer is included for normal submissions, not for timeouts.
type AnswerResult struct {
	Correct       bool   `json:"isCorrect"`
	PointsEarned  int    `json:"pointsEarned"`
	Reason        string `json:"transactionReason"`
	CorrectAnswer string `json:"correctAnswer,omitempty"`
}

// Ledger reasons, written verbatim into wallet entries and answer results.
const (
	ReasonTimeout     = "Timeout penalty"
	ReasonFastCorrect = "Fast correct answer"
	ReasonCorrect     = "Correct answer"
	ReasonIncorrect   = "Incorrect answer"
)

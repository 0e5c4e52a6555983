package app

import "quizcha-live-service/internal/domain"

// Outbound message types pushed to clients.
const (
	MsgStateUpdate  = "stateUpdate"
	MsgWaiting      = "waiting"
	MsgQuestion     = "question"
	MsgStateChange  = "stateChange"
	MsgTimerUpdate  = "timerUpdate"
	MsgAnswerResult = "answerResult"
	MsgQuizEnd      = "quizEnd"
	MsgError        = "error"
)

// QuizSummary is the client-facing view of the active quiz.
type QuizSummary struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
	TotalQuestions       int    `json:"totalQuestions"`
}

// QuestionView is a question stripped of its correct answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// TimingConfig tells clients how long the two phases run.
type TimingConfig struct {
	QuestionTime int `json:"questionTime"`
	AnswerTime   int `json:"answerTime"`
}

// StatePayload is the full session snapshot (stateUpdate and question
// messages). Action is "newQuestion" on question broadcasts.
type StatePayload struct {
	State                domain.Phase  `json:"state"`
	Quiz                 *QuizSummary  `json:"quiz"`
	Question             *QuestionView `json:"question"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	TotalQuestions       int           `json:"totalQuestions"`
	TimeLeft             int           `json:"timeLeft"`
	Config               TimingConfig  `json:"config"`
	Action               string        `json:"action,omitempty"`
}

type WaitingPayload struct {
	Message string `json:"message"`
}

type StateChangePayload struct {
	State    domain.Phase `json:"state"`
	TimeLeft int          `json:"timeLeft"`
}

type TimerPayload struct {
	TimeLeft int          `json:"timeLeft"`
	State    domain.Phase `json:"state"`
}

// FinalScore is one leaderboard row in the quizEnd payload.
type FinalScore struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Points int    `json:"points"`
}

type QuizEndPayload struct {
	Message string       `json:"message"`
	Scores  []FinalScore `json:"scores"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

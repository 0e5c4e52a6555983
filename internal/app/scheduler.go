package app

import (
	"context"
	"errors"
	"log"
	"time"

	"quizcha-live-service/internal/domain"
)

// DefaultPollInterval is how often the scheduler checks for due quizzes.
const DefaultPollInterval = 5 * time.Second

// Scheduler periodically claims a due quiz and hands it to the session.
// Exclusivity rests on two things: the idle check here (one live session per
// process) and the store's atomic conditional claim (one winner per quiz
// across concurrent pollers).
type Scheduler struct {
	session  *LiveSession
	quizzes  QuizStore
	interval time.Duration
	now      func() time.Time
}

func NewScheduler(session *LiveSession, quizzes QuizStore, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{session: session, quizzes: quizzes, interval: interval, now: time.Now}
}

// NewSchedulerWithClock is for tests.
func NewSchedulerWithClock(session *LiveSession, quizzes QuizStore, interval time.Duration, now func() time.Time) *Scheduler {
	s := NewScheduler(session, quizzes, interval)
	s.now = now
	return s
}

// Run polls until the context is canceled. One poll fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll performs one scheduling pass. Skips entirely while a quiz is active;
// a claim lost to another poller is a no-op, not an error.
func (s *Scheduler) Poll(ctx context.Context) {
	if !s.session.Idle() {
		return
	}

	now := s.now()
	quiz, err := s.quizzes.ClaimDueQuiz(ctx, now.Format(domain.DateLayout), now.Format(domain.TimeLayout), now)
	if errors.Is(err, domain.ErrNoDueQuiz) {
		return
	}
	if err != nil {
		log.Printf("check scheduled quizzes: %v", err)
		return
	}

	log.Printf("claimed quiz %q scheduled for %s %s", quiz.Title, quiz.Date, quiz.Time)
	if err := s.session.Start(ctx, quiz); err != nil {
		log.Printf("start quiz %s: %v", quiz.ID, err)
		// Undo the claim so the live flag never dangles without a session.
		if relErr := s.quizzes.ReleaseClaim(ctx, quiz.ID); relErr != nil {
			log.Printf("release claim for quiz %s: %v", quiz.ID, relErr)
		}
	}
}

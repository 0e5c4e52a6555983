package app

import (
	"context"
	"fmt"
	"log"

	"quizcha-live-service/internal/domain"
)

// SubmitAnswer validates, scores and records one participant's answer for
// the current question. A nil or empty answer is the explicit timeout
// signal. Precondition failures come back as domain errors and mutate
// nothing; the reply itself goes straight to the submitting client.
func (s *LiveSession) SubmitAnswer(ctx context.Context, clientID string, answer *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz == nil || s.phase != domain.PhaseQuestion {
		return domain.ErrNotAcceptingAnswers
	}
	p, ok := s.participants[clientID]
	if !ok {
		return domain.ErrNotJoined
	}
	if p.answers[s.questionIndex] != nil {
		return domain.ErrAlreadyAnswered
	}

	if answer == nil || *answer == "" {
		if err := s.applyTimeoutLocked(ctx, p); err != nil {
			return fmt.Errorf("record timeout penalty: %w", err)
		}
		return nil
	}

	question := s.quiz.Questions[s.questionIndex]
	// The speed yardstick is the configured answer-phase duration, even
	// though the participant answers during the question phase. Kept as-is:
	// changing it would change published scores.
	elapsed := s.cfg.AnswerTimeLimit - s.timeLeft

	correct := *answer == question.CorrectAnswer
	fast := elapsed <= s.cfg.FastAnswerThreshold

	points := s.cfg.IncorrectAnswerPenalty
	reason := domain.ReasonIncorrect
	if correct {
		points = s.cfg.CorrectAnswerBase
		reason = domain.ReasonCorrect
		if fast {
			points += s.cfg.FastAnswerBonus
			reason = domain.ReasonFastCorrect
		}
	}

	now := s.now()
	entry := domain.NewWalletEntry(points, reason, now)
	if err := s.users.AdjustPoints(ctx, p.userID, points, entry); err != nil {
		return fmt.Errorf("record answer for user %s: %w", p.userID, err)
	}

	p.answers[s.questionIndex] = &domain.AnswerRecord{
		Answer:       *answer,
		Correct:      correct,
		PointsEarned: points,
		Timestamp:    now,
	}
	if correct {
		p.score++
	}
	p.points = floorZero(p.points + points)

	p.client.Send(MsgAnswerResult, domain.AnswerResult{
		Correct:       correct,
		PointsEarned:  points,
		Reason:        reason,
		CorrectAnswer: question.CorrectAnswer,
	})
	return nil
}

// sweepUnansweredLocked charges the timeout penalty to every participant
// whose slot for the closing question is still empty. Runs under the session
// mutex, so a submission cannot slip in between the check and the penalty.
func (s *LiveSession) sweepUnansweredLocked(ctx context.Context) {
	for _, p := range s.participants {
		if p.answers[s.questionIndex] != nil {
			continue
		}
		if err := s.applyTimeoutLocked(ctx, p); err != nil {
			log.Printf("timeout penalty for user %s: %v", p.userID, err)
			// Close the slot anyway so the participant is not charged again
			// if the store recovers mid-sweep.
			p.answers[s.questionIndex] = &domain.AnswerRecord{Timestamp: s.now()}
		}
	}
}

// applyTimeoutLocked is the single timeout path, shared by the explicit
// empty submission and the end-of-phase sweep. Durable first, local after,
// so a store failure leaves the slot open.
func (s *LiveSession) applyTimeoutLocked(ctx context.Context, p *participant) error {
	penalty := s.cfg.TimeoutPenalty
	if penalty < 0 {
		penalty = -penalty
	}

	now := s.now()
	entry := domain.NewWalletEntry(-penalty, domain.ReasonTimeout, now)
	if err := s.users.AdjustPoints(ctx, p.userID, -penalty, entry); err != nil {
		return err
	}

	p.answers[s.questionIndex] = &domain.AnswerRecord{
		Correct:      false,
		PointsEarned: -penalty,
		Timestamp:    now,
	}
	p.points = floorZero(p.points - penalty)

	p.client.Send(MsgAnswerResult, domain.AnswerResult{
		Correct:      false,
		PointsEarned: -penalty,
		Reason:       domain.ReasonTimeout,
	})
	return nil
}

func floorZero(points int) int {
	if points < 0 {
		return 0
	}
	return points
}

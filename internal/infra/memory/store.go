package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizcha-live-service/internal/domain"
)

// Store is an in-memory implementation of the app store interfaces, used in
// tests and when running without Postgres.
type Store struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
	users   map[string]domain.User
	configs []domain.SystemConfig
}

func NewStore(quizzes map[string]domain.Quiz, users map[string]domain.User) *Store {
	s := &Store{
		quizzes: make(map[string]domain.Quiz),
		users:   make(map[string]domain.User),
	}
	for id, quiz := range quizzes {
		s.quizzes[id] = quiz
	}
	for id, user := range users {
		s.users[id] = user
	}
	return s
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) ListQuizzes(_ context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0, len(s.quizzes))
	for _, quiz := range s.quizzes {
		out = append(out, quiz)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ClaimDueQuiz holds the write lock across match and update, so concurrent
// claim attempts see exactly one winner per quiz.
func (s *Store) ClaimDueQuiz(_ context.Context, date, hhmm string, startedAt time.Time) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var match string
	for id, quiz := range s.quizzes {
		if quiz.Date != date || quiz.Time > hhmm || quiz.IsLive || quiz.Completed || quiz.StartedAt != nil {
			continue
		}
		if match == "" || quiz.Time < s.quizzes[match].Time {
			match = id
		}
	}
	if match == "" {
		return domain.Quiz{}, domain.ErrNoDueQuiz
	}

	quiz := s.quizzes[match]
	quiz.IsLive = true
	started := startedAt
	quiz.StartedAt = &started
	s.quizzes[match] = quiz
	return quiz, nil
}

func (s *Store) SetQuestionIndex(_ context.Context, quizID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.CurrentQuestionIndex = index
	s.quizzes[quizID] = quiz
	return nil
}

func (s *Store) ReleaseClaim(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.IsLive = false
	quiz.StartedAt = nil
	s.quizzes[quizID] = quiz
	return nil
}

func (s *Store) FinishQuiz(_ context.Context, quizID string, participantIDs []string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.IsLive = false
	quiz.CurrentQuestionIndex = -1
	quiz.Completed = true
	ended := endedAt
	quiz.EndedAt = &ended
	quiz.Participants = append([]string(nil), participantIDs...)
	s.quizzes[quizID] = quiz
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	user.Wallet = append([]domain.WalletEntry(nil), user.Wallet...)
	return user, nil
}

func (s *Store) AdjustPoints(_ context.Context, userID string, delta int, entry domain.WalletEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Points += delta
	user.Wallet = append(user.Wallet, entry)
	s.users[userID] = user
	return nil
}

// SetLatestConfig seeds a configuration record; the last one wins.
func (s *Store) SetLatestConfig(cfg domain.SystemConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
}

func (s *Store) LatestConfig(_ context.Context) (domain.SystemConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.configs) == 0 {
		return domain.SystemConfig{}, false, nil
	}
	return s.configs[len(s.configs)-1], true, nil
}

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"quizcha-live-service/internal/domain"
)

// Transition reports what a single Tick did, so the state machine can be
// driven and asserted without a real timer.
type Transition string

const (
	TransitionNone         Transition = "none"
	TransitionCountdown    Transition = "countdown"
	TransitionAnswerPhase  Transition = "answerPhase"
	TransitionNextQuestion Transition = "nextQuestion"
	TransitionFinished     Transition = "finished"
)

const waitingMessage = "Waiting for quiz to start..."

// participant is one registry entry, keyed by connection identity and owned
// exclusively by the session.
type participant struct {
	userID  string
	name    string
	score   int                    // count of correct answers
	points  int                    // cached balance, floored at zero
	answers []*domain.AnswerRecord // one slot per question, nil until answered
	client  Client
}

// LiveSession is the process-wide coordinator: phase machine, participant
// registry and countdown. One mutex owns all of it; store calls made during
// a transition run under that mutex, which gives the single-writer
// discipline the scoring arithmetic depends on.
type LiveSession struct {
	quizzes   QuizStore
	users     UserStore
	presence  Presence
	cfg       domain.SystemConfig
	now       func() time.Time
	tickEvery time.Duration

	mu            sync.Mutex
	phase         domain.Phase
	quiz          *domain.Quiz
	questionIndex int
	timeLeft      int
	participants  map[string]*participant
	stopTick      chan struct{}
}

func NewLiveSession(quizzes QuizStore, users UserStore, presence Presence, cfg domain.SystemConfig) *LiveSession {
	return NewLiveSessionWithClock(quizzes, users, presence, cfg, time.Now, time.Second)
}

// NewLiveSessionWithClock is for tests: a fake clock, and tickEvery <= 0
// disables the internal ticker so Tick can be driven by hand.
func NewLiveSessionWithClock(quizzes QuizStore, users UserStore, presence Presence, cfg domain.SystemConfig, now func() time.Time, tickEvery time.Duration) *LiveSession {
	if presence == nil {
		presence = NoopPresence{}
	}
	return &LiveSession{
		quizzes:       quizzes,
		users:         users,
		presence:      presence,
		cfg:           cfg,
		now:           now,
		tickEvery:     tickEvery,
		phase:         domain.PhaseIdle,
		questionIndex: -1,
		participants:  make(map[string]*participant),
	}
}

// Idle reports whether no quiz session is active.
func (s *LiveSession) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == domain.PhaseIdle
}

// Phase returns the current phase.
func (s *LiveSession) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start moves the machine from IDLE to QUESTION for a freshly claimed quiz.
// The registry is cleared: anyone who joined while waiting must join again.
func (s *LiveSession) Start(ctx context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseIdle {
		return domain.ErrQuizActive
	}

	// A quiz document with no questions has nothing to run. Mark it
	// completed immediately so it is never claimed again.
	if len(quiz.Questions) == 0 {
		log.Printf("quiz %s has no questions, finishing immediately", quiz.ID)
		s.quiz = &quiz
		s.phase = domain.PhaseFinished
		s.participants = make(map[string]*participant)
		s.finishLocked(ctx)
		return nil
	}

	if err := s.quizzes.SetQuestionIndex(ctx, quiz.ID, 0); err != nil {
		return err
	}

	quiz.CurrentQuestionIndex = 0
	s.quiz = &quiz
	s.phase = domain.PhaseQuestion
	s.questionIndex = 0
	s.timeLeft = quiz.TimeLimitPerQuestion
	s.participants = make(map[string]*participant)

	if err := s.presence.MarkLive(ctx, quiz.ID); err != nil {
		log.Printf("mark quiz %s live: %v", quiz.ID, err)
	}

	s.startTickerLocked()
	s.broadcastQuestionLocked()
	log.Printf("quiz %s started: %d questions, %ds per question", quiz.ID, len(quiz.Questions), quiz.TimeLimitPerQuestion)
	return nil
}

// Tick advances the countdown by one second and performs whatever phase
// transition falls due. The timer broadcast always goes out before the
// transition, so participants observe "0" before the phase changes.
func (s *LiveSession) Tick(ctx context.Context) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseQuestion && s.phase != domain.PhaseAnswer {
		return TransitionNone
	}

	s.timeLeft--
	s.broadcastLocked(MsgTimerUpdate, TimerPayload{TimeLeft: s.timeLeft, State: s.phase})
	if s.timeLeft > 0 {
		return TransitionCountdown
	}

	if s.phase == domain.PhaseQuestion {
		s.phase = domain.PhaseAnswer
		s.timeLeft = s.cfg.AnswerTimeLimit
		s.broadcastLocked(MsgStateChange, StateChangePayload{State: s.phase, TimeLeft: s.timeLeft})
		return TransitionAnswerPhase
	}

	// ANSWER phase expired: charge everyone who never answered, then either
	// advance or finish.
	s.sweepUnansweredLocked(ctx)

	if s.questionIndex+1 < len(s.quiz.Questions) {
		s.questionIndex++
		s.phase = domain.PhaseQuestion
		s.timeLeft = s.quiz.TimeLimitPerQuestion
		if err := s.quizzes.SetQuestionIndex(ctx, s.quiz.ID, s.questionIndex); err != nil {
			log.Printf("persist question index for quiz %s: %v", s.quiz.ID, err)
		}
		s.broadcastQuestionLocked()
		return TransitionNextQuestion
	}

	s.phase = domain.PhaseFinished
	s.finishLocked(ctx)
	return TransitionFinished
}

// Join registers a connection for the given user. Rejected when the user is
// unknown or already has a registry entry, even via another connection.
func (s *LiveSession) Join(ctx context.Context, client Client, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.userID == userID {
			return domain.ErrAlreadyJoined
		}
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	var slots int
	if s.quiz != nil {
		slots = len(s.quiz.Questions)
	}
	s.participants[client.ID()] = &participant{
		userID:  user.ID,
		name:    user.Username,
		points:  user.Points,
		answers: make([]*domain.AnswerRecord, slots),
		client:  client,
	}

	if s.quiz != nil && s.phase != domain.PhaseIdle {
		client.Send(MsgStateUpdate, s.snapshotLocked(""))
	} else {
		client.Send(MsgWaiting, WaitingPayload{Message: waitingMessage})
	}
	log.Printf("user %s (%s) joined the quiz", user.Username, user.ID)
	return nil
}

// Disconnect drops the registry entry for one connection. No penalty, no
// effect on phase or timer.
func (s *LiveSession) Disconnect(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, clientID)
}

// SendState answers a requestState from any connection, joined or not.
func (s *LiveSession) SendState(client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiz != nil && s.phase != domain.PhaseIdle {
		client.Send(MsgStateUpdate, s.snapshotLocked(""))
	} else {
		client.Send(MsgWaiting, WaitingPayload{Message: "No active quiz"})
	}
}

// finishLocked persists the outcome, sends the leaderboard to everyone still
// registered, and resets. The reset runs even when persistence or the
// broadcast fails: the machine must never stay in FINISHED.
func (s *LiveSession) finishLocked(ctx context.Context) {
	defer s.resetLocked()

	quizID := s.quiz.ID
	endedAt := s.now()

	ids := make([]string, 0, len(s.participants))
	scores := make([]FinalScore, 0, len(s.participants))
	for _, p := range s.participants {
		ids = append(ids, p.userID)
		scores = append(scores, FinalScore{UserID: p.userID, Name: p.name, Score: p.score, Points: p.points})
	}

	if err := s.quizzes.FinishQuiz(ctx, quizID, ids, endedAt); err != nil {
		log.Printf("finalize quiz %s: %v", quizID, err)
	}

	s.broadcastLocked(MsgQuizEnd, QuizEndPayload{Message: "Quiz has ended!", Scores: scores})
	log.Printf("quiz %s ended with %d participants", quizID, len(ids))
}

func (s *LiveSession) resetLocked() {
	if s.quiz != nil {
		if err := s.presence.ClearLive(context.Background(), s.quiz.ID); err != nil {
			log.Printf("clear live marker for quiz %s: %v", s.quiz.ID, err)
		}
	}
	s.phase = domain.PhaseIdle
	s.quiz = nil
	s.questionIndex = -1
	s.timeLeft = 0
	s.participants = make(map[string]*participant)
	s.stopTickerLocked()
}

func (s *LiveSession) startTickerLocked() {
	s.stopTickerLocked()
	if s.tickEvery <= 0 {
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	go func() {
		ticker := time.NewTicker(s.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
}

func (s *LiveSession) stopTickerLocked() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *LiveSession) broadcastLocked(msgType string, payload any) {
	for _, p := range s.participants {
		p.client.Send(msgType, payload)
	}
}

func (s *LiveSession) broadcastQuestionLocked() {
	s.broadcastLocked(MsgQuestion, s.snapshotLocked("newQuestion"))
}

func (s *LiveSession) snapshotLocked(action string) StatePayload {
	snapshot := StatePayload{
		State:                s.phase,
		CurrentQuestionIndex: s.questionIndex,
		TimeLeft:             s.timeLeft,
		Action:               action,
		Config: TimingConfig{
			QuestionTime: 15,
			AnswerTime:   s.cfg.AnswerTimeLimit,
		},
	}
	if s.quiz == nil {
		return snapshot
	}
	snapshot.TotalQuestions = len(s.quiz.Questions)
	snapshot.Quiz = &QuizSummary{
		ID:                   s.quiz.ID,
		Title:                s.quiz.Title,
		CurrentQuestionIndex: s.questionIndex,
		TotalQuestions:       len(s.quiz.Questions),
	}
	if s.quiz.TimeLimitPerQuestion > 0 {
		snapshot.Config.QuestionTime = s.quiz.TimeLimitPerQuestion
	}
	if s.questionIndex >= 0 && s.questionIndex < len(s.quiz.Questions) {
		q := s.quiz.Questions[s.questionIndex]
		snapshot.Question = &QuestionView{ID: q.ID, Text: q.Text, Options: q.Options}
	}
	return snapshot
}

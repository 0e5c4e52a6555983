package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizcha-live-service/internal/app"
	"quizcha-live-service/internal/domain"
	"quizcha-live-service/internal/infra/memory"
)

var testTime = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func testScoring() domain.SystemConfig {
	return domain.SystemConfig{
		CorrectAnswerBase:      10,
		FastAnswerBonus:        15,
		IncorrectAnswerPenalty: -10,
		TimeoutPenalty:         10,
		InitialPoints:          100,
		AnswerTimeLimit:        8,
		FastAnswerThreshold:    5,
	}
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                   "quiz-1",
		Title:                "Test quiz",
		TimeLimitPerQuestion: 8,
		Date:                 "14/03/2025",
		Time:                 "10:30",
		CurrentQuestionIndex: -1,
		Questions: []domain.Question{
			{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
			{ID: "q2", Text: "Red planet?", Options: []string{"Venus", "Mars"}, CorrectAnswer: "Mars"},
		},
	}
}

func newTestSession(t *testing.T) (*app.LiveSession, *memory.Store) {
	t.Helper()
	store := memory.NewStore(
		map[string]domain.Quiz{"quiz-1": testQuiz()},
		map[string]domain.User{
			"u1": {ID: "u1", Username: "alice", Points: 100},
			"u2": {ID: "u2", Username: "bob", Points: 100},
			"u3": {ID: "u3", Username: "carol", Points: 5},
		},
	)
	session := app.NewLiveSessionWithClock(store, store, nil, testScoring(), func() time.Time { return testTime }, 0)
	return session, store
}

type sentMsg struct {
	Type    string
	Payload any
}

type fakeClient struct {
	id   string
	mu   sync.Mutex
	msgs []sentMsg
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msgType string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, sentMsg{Type: msgType, Payload: payload})
}

func (c *fakeClient) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.msgs...)
}

func (c *fakeClient) lastOfType(msgType string) (sentMsg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == msgType {
			return c.msgs[i], true
		}
	}
	return sentMsg{}, false
}

func ticks(session *app.LiveSession, n int) app.Transition {
	last := app.TransitionNone
	for i := 0; i < n; i++ {
		last = session.Tick(context.Background())
	}
	return last
}

func strPtr(s string) *string { return &s }

func TestStartClearsRegistryAndEntersQuestionPhase(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)

	early := newFakeClient("c-early")
	if err := session.Join(ctx, early, "u1"); err != nil {
		t.Fatalf("join while idle: %v", err)
	}
	if msg, ok := early.lastOfType(app.MsgWaiting); !ok {
		t.Fatalf("expected waiting message, got %+v", msg)
	}

	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Phase() != domain.PhaseQuestion {
		t.Fatalf("expected question phase, got %s", session.Phase())
	}

	// The registry is cleared on start; the early joiner must join again.
	if err := session.SubmitAnswer(ctx, early.ID(), strPtr("4")); err != domain.ErrNotJoined {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)

	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.Start(ctx, testQuiz()); err != domain.ErrQuizActive {
		t.Fatalf("expected ErrQuizActive, got %v", err)
	}
}

func TestStartWithNoQuestionsFinishesImmediately(t *testing.T) {
	ctx := context.Background()
	empty := testQuiz()
	empty.ID = "quiz-empty"
	empty.Questions = nil
	store := memory.NewStore(
		map[string]domain.Quiz{"quiz-empty": empty},
		map[string]domain.User{"u1": {ID: "u1", Username: "alice", Points: 100}},
	)
	session := app.NewLiveSessionWithClock(store, store, nil, testScoring(), func() time.Time { return testTime }, 0)

	waiter := newFakeClient("c-wait")
	if err := session.Join(ctx, waiter, "u1"); err != nil {
		t.Fatalf("join while idle: %v", err)
	}

	if err := session.Start(ctx, empty); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !session.Idle() {
		t.Fatalf("expected idle session, got phase %s", session.Phase())
	}

	// Ticking afterwards must be a no-op, not a crash on a missing question.
	if got := ticks(session, 10); got != app.TransitionNone {
		t.Fatalf("expected no transition, got %s", got)
	}

	quiz, err := store.GetQuiz(ctx, "quiz-empty")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if !quiz.Completed || quiz.IsLive || quiz.CurrentQuestionIndex != -1 {
		t.Fatalf("expected completed quiz, got %+v", quiz)
	}
	if len(quiz.Participants) != 0 {
		t.Fatalf("expected no recorded participants, got %v", quiz.Participants)
	}

	// Completed means the scheduler can never claim it again.
	if _, err := store.ClaimDueQuiz(ctx, empty.Date, empty.Time, testTime); err != domain.ErrNoDueQuiz {
		t.Fatalf("expected ErrNoDueQuiz, got %v", err)
	}
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := session.Join(ctx, newFakeClient("c0"), "nobody"); err != domain.ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	msg, ok := c1.lastOfType(app.MsgStateUpdate)
	if !ok {
		t.Fatalf("expected state snapshot on join")
	}
	state := msg.Payload.(app.StatePayload)
	if state.State != domain.PhaseQuestion || state.Question == nil || state.Question.ID != "q1" {
		t.Fatalf("unexpected snapshot: %+v", state)
	}
	if state.TotalQuestions != 2 || state.Config.AnswerTime != 8 {
		t.Fatalf("unexpected snapshot config: %+v", state)
	}

	// Same user on a different connection is rejected.
	if err := session.Join(ctx, newFakeClient("c2"), "u1"); err != domain.ErrAlreadyJoined {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestTickBroadcastsZeroBeforeTransition(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if tr := ticks(session, 7); tr != app.TransitionCountdown {
		t.Fatalf("expected countdown, got %s", tr)
	}
	if tr := session.Tick(ctx); tr != app.TransitionAnswerPhase {
		t.Fatalf("expected answer-phase transition, got %s", tr)
	}
	if session.Phase() != domain.PhaseAnswer {
		t.Fatalf("expected answer phase, got %s", session.Phase())
	}

	// The zero timer broadcast must precede the stateChange of the same tick.
	msgs := c1.messages()
	zeroAt, changeAt := -1, -1
	for i, msg := range msgs {
		if msg.Type == app.MsgTimerUpdate {
			if tp := msg.Payload.(app.TimerPayload); tp.TimeLeft == 0 {
				zeroAt = i
			}
		}
		if msg.Type == app.MsgStateChange {
			changeAt = i
		}
	}
	if zeroAt == -1 || changeAt == -1 || zeroAt > changeAt {
		t.Fatalf("expected timerUpdate 0 before stateChange, got zero=%d change=%d", zeroAt, changeAt)
	}
}

func TestDisconnectLeavesPhaseAndTimerAlone(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	session.Disconnect(c1.ID())
	if session.Phase() != domain.PhaseQuestion {
		t.Fatalf("disconnect changed phase to %s", session.Phase())
	}
	user, err := store.GetUser(ctx, "u1")
	if err != nil || user.Points != 100 || len(user.Wallet) != 0 {
		t.Fatalf("disconnect must not touch the durable user, got %+v (%v)", user, err)
	}

	// The departed user can join again on a new connection.
	if err := session.Join(ctx, newFakeClient("c2"), "u1"); err != nil {
		t.Fatalf("rejoin after disconnect: %v", err)
	}
}

func TestScoringFastSlowAndIncorrect(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c1, c2, c3 := newFakeClient("c1"), newFakeClient("c2"), newFakeClient("c3")
	for client, userID := range map[*fakeClient]string{c1: "u1", c2: "u2", c3: "u3"} {
		if err := session.Join(ctx, client, userID); err != nil {
			t.Fatalf("join %s: %v", userID, err)
		}
	}

	// Question time limit is 8s and the answer budget 8s, so after 3 ticks
	// elapsed = 8 - 5 = 3s: inside the 5s fast window.
	ticks(session, 3)
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != nil {
		t.Fatalf("fast submit: %v", err)
	}
	msg, _ := c1.lastOfType(app.MsgAnswerResult)
	fast := msg.Payload.(domain.AnswerResult)
	if !fast.Correct || fast.PointsEarned != 25 || fast.Reason != domain.ReasonFastCorrect {
		t.Fatalf("fast correct should earn 25, got %+v", fast)
	}
	if fast.CorrectAnswer != "4" {
		t.Fatalf("result should echo the correct answer, got %+v", fast)
	}

	// Three more ticks: elapsed = 6s, past the fast window.
	ticks(session, 3)
	if err := session.SubmitAnswer(ctx, c2.ID(), strPtr("4")); err != nil {
		t.Fatalf("slow submit: %v", err)
	}
	msg, _ = c2.lastOfType(app.MsgAnswerResult)
	slow := msg.Payload.(domain.AnswerResult)
	if !slow.Correct || slow.PointsEarned != 10 || slow.Reason != domain.ReasonCorrect {
		t.Fatalf("slow correct should earn 10, got %+v", slow)
	}

	if err := session.SubmitAnswer(ctx, c3.ID(), strPtr("5")); err != nil {
		t.Fatalf("incorrect submit: %v", err)
	}
	msg, _ = c3.lastOfType(app.MsgAnswerResult)
	wrong := msg.Payload.(domain.AnswerResult)
	if wrong.Correct || wrong.PointsEarned != -10 || wrong.Reason != domain.ReasonIncorrect {
		t.Fatalf("incorrect should earn -10, got %+v", wrong)
	}

	// Durable balances and ledgers follow the deltas.
	u1, _ := store.GetUser(ctx, "u1")
	if u1.Points != 125 || len(u1.Wallet) != 1 || u1.Wallet[0].Type != "credit" || u1.Wallet[0].Amount != 25 {
		t.Fatalf("unexpected u1 state: %+v", u1)
	}
	u3, _ := store.GetUser(ctx, "u3")
	if u3.Points != -5 || len(u3.Wallet) != 1 || u3.Wallet[0].Type != "debit" || u3.Wallet[0].Amount != 10 {
		t.Fatalf("unexpected u3 state: %+v", u3)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("3")); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}

	// First outcome untouched: one credit of 25, balance 125.
	user, _ := store.GetUser(ctx, "u1")
	if user.Points != 125 || len(user.Wallet) != 1 {
		t.Fatalf("second submission mutated state: %+v", user)
	}
}

func TestSubmitOutsideQuestionPhaseRejected(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)

	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != domain.ErrNotAcceptingAnswers {
		t.Fatalf("expected ErrNotAcceptingAnswers while idle, got %v", err)
	}
}

func TestExplicitTimeoutSubmission(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := session.SubmitAnswer(ctx, c1.ID(), nil); err != nil {
		t.Fatalf("timeout submit: %v", err)
	}
	msg, _ := c1.lastOfType(app.MsgAnswerResult)
	result := msg.Payload.(domain.AnswerResult)
	if result.Correct || result.PointsEarned != -10 || result.Reason != domain.ReasonTimeout {
		t.Fatalf("unexpected timeout result: %+v", result)
	}
	if result.CorrectAnswer != "" {
		t.Fatalf("timeout result must not reveal the answer: %+v", result)
	}

	// The slot is closed, no second penalty from the sweep.
	user, _ := store.GetUser(ctx, "u1")
	if user.Points != 90 || len(user.Wallet) != 1 {
		t.Fatalf("unexpected user state: %+v", user)
	}
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered after timeout, got %v", err)
	}
}

func TestTimeoutSweepChargesOnlyUnanswered(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1, c2 := newFakeClient("c1"), newFakeClient("c2")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := session.Join(ctx, c2, "u2"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Run out the question phase (8 ticks), then the answer phase (8 ticks).
	if tr := ticks(session, 8); tr != app.TransitionAnswerPhase {
		t.Fatalf("expected answer phase, got %s", tr)
	}
	if tr := ticks(session, 8); tr != app.TransitionNextQuestion {
		t.Fatalf("expected next question, got %s", tr)
	}

	u1, _ := store.GetUser(ctx, "u1")
	if u1.Points != 125 || len(u1.Wallet) != 1 {
		t.Fatalf("answered participant must not be swept: %+v", u1)
	}
	u2, _ := store.GetUser(ctx, "u2")
	if u2.Points != 90 || len(u2.Wallet) != 1 || u2.Wallet[0].Reason != domain.ReasonTimeout {
		t.Fatalf("unanswered participant not penalized: %+v", u2)
	}
	msg, ok := c2.lastOfType(app.MsgAnswerResult)
	if !ok || msg.Payload.(domain.AnswerResult).Reason != domain.ReasonTimeout {
		t.Fatalf("swept participant should receive a timeout result")
	}

	// Second question started fresh.
	if session.Phase() != domain.PhaseQuestion {
		t.Fatalf("expected question phase, got %s", session.Phase())
	}
	if msg, ok := c1.lastOfType(app.MsgQuestion); !ok {
		t.Fatalf("expected question broadcast")
	} else if q := msg.Payload.(app.StatePayload); q.Question == nil || q.Question.ID != "q2" || q.Action != "newQuestion" {
		t.Fatalf("unexpected question payload: %+v", q)
	}
}

func TestLocalPointsFlooredAtZero(t *testing.T) {
	ctx := context.Background()
	session, _ := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// u3 starts with 5 points; two penalties would go negative.
	c3 := newFakeClient("c3")
	if err := session.Join(ctx, c3, "u3"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := session.SubmitAnswer(ctx, c3.ID(), strPtr("5")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Finish the whole quiz: question out, answer out, question 2 out,
	// answer 2 out (u3 swept on q2).
	ticks(session, 8)
	ticks(session, 8)
	ticks(session, 8)
	if tr := ticks(session, 8); tr != app.TransitionFinished {
		t.Fatalf("expected finished, got %s", tr)
	}

	msg, ok := c3.lastOfType(app.MsgQuizEnd)
	if !ok {
		t.Fatalf("expected quizEnd")
	}
	end := msg.Payload.(app.QuizEndPayload)
	if len(end.Scores) != 1 || end.Scores[0].Points != 0 {
		t.Fatalf("cached points must floor at zero, got %+v", end.Scores)
	}
}

func TestFinishPersistsAndResetsToIdle(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1 := newFakeClient("c1")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	for phase := 0; phase < 4; phase++ {
		ticks(session, 8)
	}

	quiz, err := store.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.IsLive || !quiz.Completed || quiz.CurrentQuestionIndex != -1 || quiz.EndedAt == nil {
		t.Fatalf("quiz outcome not persisted: %+v", quiz)
	}
	if len(quiz.Participants) != 1 || quiz.Participants[0] != "u1" {
		t.Fatalf("participants not persisted: %+v", quiz.Participants)
	}

	if _, ok := c1.lastOfType(app.MsgQuizEnd); !ok {
		t.Fatalf("expected quizEnd broadcast")
	}

	// Round trip: back to idle with an empty registry; a fresh join behaves
	// as if no quiz had ever run.
	if session.Phase() != domain.PhaseIdle {
		t.Fatalf("expected idle, got %s", session.Phase())
	}
	c2 := newFakeClient("c2")
	if err := session.Join(ctx, c2, "u1"); err != nil {
		t.Fatalf("join after reset: %v", err)
	}
	if _, ok := c2.lastOfType(app.MsgWaiting); !ok {
		t.Fatalf("expected waiting message after reset")
	}
}

func TestEndToEndTwoQuestions(t *testing.T) {
	ctx := context.Background()
	session, store := newTestSession(t)
	if err := session.Start(ctx, testQuiz()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c1, c2 := newFakeClient("c1"), newFakeClient("c2")
	if err := session.Join(ctx, c1, "u1"); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if err := session.Join(ctx, c2, "u2"); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	// Q1: u1 answers fast (elapsed 3s, +25), u2 slow (elapsed 6s, +10).
	ticks(session, 3)
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("4")); err != nil {
		t.Fatalf("u1 q1: %v", err)
	}
	ticks(session, 3)
	if err := session.SubmitAnswer(ctx, c2.ID(), strPtr("4")); err != nil {
		t.Fatalf("u2 q1: %v", err)
	}
	if tr := ticks(session, 2); tr != app.TransitionAnswerPhase {
		t.Fatalf("expected answer phase, got %s", tr)
	}
	if tr := ticks(session, 8); tr != app.TransitionNextQuestion {
		t.Fatalf("expected next question, got %s", tr)
	}

	// Q2: u1 answers correct (+10), u2 times out (-10 via the sweep).
	ticks(session, 6)
	if err := session.SubmitAnswer(ctx, c1.ID(), strPtr("Mars")); err != nil {
		t.Fatalf("u1 q2: %v", err)
	}
	ticks(session, 2)
	if tr := ticks(session, 8); tr != app.TransitionFinished {
		t.Fatalf("expected finished, got %s", tr)
	}

	msg, ok := c1.lastOfType(app.MsgQuizEnd)
	if !ok {
		t.Fatalf("expected quizEnd")
	}
	end := msg.Payload.(app.QuizEndPayload)
	byUser := map[string]app.FinalScore{}
	for _, score := range end.Scores {
		byUser[score.UserID] = score
	}
	if s := byUser["u1"]; s.Score != 2 || s.Points != 135 {
		t.Fatalf("u1 leaderboard wrong: %+v", s)
	}
	if s := byUser["u2"]; s.Score != 1 || s.Points != 100 {
		t.Fatalf("u2 leaderboard wrong: %+v", s)
	}

	u1, _ := store.GetUser(ctx, "u1")
	if u1.Points != 135 || len(u1.Wallet) != 2 {
		t.Fatalf("u1 durable state wrong: %+v", u1)
	}
	u2, _ := store.GetUser(ctx, "u2")
	if u2.Points != 100 || len(u2.Wallet) != 2 {
		t.Fatalf("u2 durable state wrong: %+v", u2)
	}
	if u2.Wallet[1].Type != "debit" || u2.Wallet[1].Reason != domain.ReasonTimeout {
		t.Fatalf("u2 ledger wrong: %+v", u2.Wallet)
	}
}

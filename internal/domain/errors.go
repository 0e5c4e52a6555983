package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz document could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrUserNotFound is returned when a join references an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoDueQuiz is the scheduler's no-op outcome: nothing matched the
	// claim predicate (possibly because another poller already won).
	ErrNoDueQuiz = errors.New("no quiz due to start")
	// ErrAlreadyJoined rejects a duplicate join for the same user identity,
	// even from a different connection.
	ErrAlreadyJoined = errors.New("you have already joined this quiz")
	// ErrNotJoined is returned when a connection acts before joining.
	ErrNotJoined = errors.New("you must join the quiz first")
	// ErrAlreadyAnswered rejects a second submission for the same question.
	ErrAlreadyAnswered = errors.New("you have already answered this question")
	// ErrNotAcceptingAnswers is returned outside the question phase.
	ErrNotAcceptingAnswers = errors.New("not accepting answers right now")
	// ErrQuizActive is returned when starting a session while one is live.
	ErrQuizActive = errors.New("a quiz session is already active")
)

package domain

import "errors"

var (
	// ErrRoomNotFound is returned when the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotHost is returned when a non-owner attempts a host-only action.
	ErrNotHost = errors.New("only the room host may perform this action")
	// ErrNoQuestions means a quiz cannot start because the room has no questions.
	ErrNoQuestions = errors.New("room has no questions")
	// ErrSessionNotFound is returned when no quiz session exists for a room.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionNotActive means the action requires a running quiz.
	ErrSessionNotActive = errors.New("quiz session is not active")
	// ErrQuestionNotCurrent means an answer referenced a non-current question.
	ErrQuestionNotCurrent = errors.New("question is not the current question")
	// ErrAlreadyAnswered means the user already answered the current question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrInvalidOption means the submitted option is not one of the question's options.
	ErrInvalidOption = errors.New("selected option is not valid for this question")
	// ErrQuestionNotFound indicates a question ID is unknown.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRoomFull means the session reached the room's participant limit.
	ErrRoomFull = errors.New("room is full")
)

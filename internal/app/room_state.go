package app

import (
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// DefaultTimePerQuestion is used when neither the room nor the start request
// configures a time budget.
const DefaultTimePerQuestion = 30

// RoomSnapshot is an immutable view of a room's live quiz state.
type RoomSnapshot struct {
	RoomID            string
	SessionID         string
	HostID            string
	Active            bool
	InGrace           bool
	CurrentIndex      int
	QuestionStartedAt time.Time
	TimePerQuestion   int
	Epoch             uint64
	Questions         []domain.Question
}

// CurrentQuestion returns the in-flight question, if any.
func (s RoomSnapshot) CurrentQuestion() (domain.Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

type roomState struct {
	roomID            string
	sessionID         string
	hostID            string
	active            bool
	inGrace           bool
	currentIndex      int
	questionStartedAt time.Time
	timePerQuestion   int
	epoch             uint64
	questions         []domain.Question
	// answered tracks which users answered each question index so duplicate
	// submissions are ignored (first submission wins).
	answered    map[int]map[string]struct{}
	cancelTimer func()
}

// RoomStateStore owns the per-room in-memory quiz state and the associated
// timer handles. It replaces module-level maps with an injectable store whose
// lifetime is tied to the coordinator.
//
// Every lifecycle transition (activate, advance, grace, deactivate) bumps the
// room's epoch; timer callbacks capture the epoch they were scheduled under
// and abort when it no longer matches, so a stale timer can never fire into a
// later question or an ended session.
type RoomStateStore struct {
	mu     sync.Mutex
	clock  func() time.Time
	sched  Scheduler
	states map[string]*roomState
}

func NewRoomStateStore(sched Scheduler, clock func() time.Time) *RoomStateStore {
	if clock == nil {
		clock = time.Now
	}
	return &RoomStateStore{
		clock:  clock,
		sched:  sched,
		states: make(map[string]*roomState),
	}
}

// GetOrCreate returns the room's state snapshot, initializing an inactive
// record on first use.
func (s *RoomStateStore) GetOrCreate(roomID string) RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotOf(s.getOrCreateLocked(roomID))
}

func (s *RoomStateStore) getOrCreateLocked(roomID string) *roomState {
	if st, ok := s.states[roomID]; ok {
		return st
	}
	st := &roomState{
		roomID:          roomID,
		timePerQuestion: DefaultTimePerQuestion,
		answered:        make(map[int]map[string]struct{}),
	}
	s.states[roomID] = st
	return st
}

// Snapshot returns the room's state if it exists.
func (s *RoomStateStore) Snapshot(roomID string) (RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	return snapshotOf(st), true
}

// Activate starts a fresh run: question index 0, timer state reset, epoch
// bumped. Any prior timer for the room is cancelled.
func (s *RoomStateStore) Activate(roomID, sessionID, hostID string, timePerQuestion int, questions []domain.Question) RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(roomID)
	s.cancelTimerLocked(st)
	if timePerQuestion <= 0 {
		timePerQuestion = DefaultTimePerQuestion
	}
	st.sessionID = sessionID
	st.hostID = hostID
	st.active = true
	st.inGrace = false
	st.currentIndex = 0
	st.questionStartedAt = s.clock()
	st.timePerQuestion = timePerQuestion
	st.questions = questions
	st.answered = make(map[int]map[string]struct{})
	st.epoch++
	return snapshotOf(st)
}

// Advance moves to the next question index, clearing grace state and
// resetting the question start time. The index is monotonically
// non-decreasing while the session is active.
func (s *RoomStateStore) Advance(roomID string) (RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok || !st.active {
		return RoomSnapshot{}, false
	}
	st.currentIndex++
	st.inGrace = false
	st.questionStartedAt = s.clock()
	st.epoch++
	return snapshotOf(st), true
}

// BeginGrace transitions the room into the post-question grace window. It
// no-ops when the epoch does not match the one the timer was scheduled under.
func (s *RoomStateStore) BeginGrace(roomID string, expectEpoch uint64) (RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok || !st.active || st.inGrace || st.epoch != expectEpoch {
		return RoomSnapshot{}, false
	}
	st.inGrace = true
	st.epoch++
	return snapshotOf(st), true
}

// Deactivate ends the room's run and cancels any pending timer.
func (s *RoomStateStore) Deactivate(roomID string) (RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	s.cancelTimerLocked(st)
	st.active = false
	st.inGrace = false
	st.epoch++
	return snapshotOf(st), true
}

// Remove tears the room's state down entirely.
func (s *RoomStateStore) Remove(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[roomID]; ok {
		s.cancelTimerLocked(st)
		delete(s.states, roomID)
	}
}

// MarkAnswered records that userID answered the question at index. It
// returns false when the user already answered it.
func (s *RoomStateStore) MarkAnswered(roomID string, index int, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok {
		return false
	}
	users, ok := st.answered[index]
	if !ok {
		users = make(map[string]struct{})
		st.answered[index] = users
	}
	if _, dup := users[userID]; dup {
		return false
	}
	users[userID] = struct{}{}
	return true
}

// UnmarkAnswered reverts a MarkAnswered after a failed durable write so the
// user may retry.
func (s *RoomStateStore) UnmarkAnswered(roomID string, index int, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[roomID]; ok {
		if users, ok := st.answered[index]; ok {
			delete(users, userID)
		}
	}
}

// ScheduleTimer replaces the room's pending timer with a new one. Cancel and
// schedule happen under one lock so two timers for a room never coexist.
func (s *RoomStateStore) ScheduleTimer(roomID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(roomID)
	s.cancelTimerLocked(st)
	st.cancelTimer = s.sched.Schedule(d, fn)
}

func (s *RoomStateStore) cancelTimerLocked(st *roomState) {
	if st.cancelTimer != nil {
		st.cancelTimer()
		st.cancelTimer = nil
	}
}

func snapshotOf(st *roomState) RoomSnapshot {
	return RoomSnapshot{
		RoomID:            st.roomID,
		SessionID:         st.sessionID,
		HostID:            st.hostID,
		Active:            st.active,
		InGrace:           st.inGrace,
		CurrentIndex:      st.currentIndex,
		QuestionStartedAt: st.questionStartedAt,
		TimePerQuestion:   st.timePerQuestion,
		Epoch:             st.epoch,
		Questions:         st.questions,
	}
}

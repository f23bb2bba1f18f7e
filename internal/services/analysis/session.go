package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/models"
	"github.com/user/marketing-insights-api/internal/services/ai"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
)

// Session - состояние анализа одного пользователя
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.Mutex
	conv           Conversation
	analysisOutput *string
	monthKey       string
	dataset        *snapshot.Dataset
	runHandle      *ai.RunHandle
	busy           bool
	cancel         context.CancelFunc
	generation     uint64
	lastSeen       time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, lastSeen: now}
}

// ticket - право на выполнение одного действия в сессии
type ticket struct {
	ctx        context.Context
	generation uint64
}

// begin помечает сессию занятой; вызывается под s.mu
func (s *Session) begin(parent context.Context) ticket {
	ctx, cancel := context.WithCancel(parent)
	s.busy = true
	s.cancel = cancel
	return ticket{ctx: ctx, generation: s.generation}
}

// finish снимает занятость, если сессия не сбрасывалась; вызывается под s.mu.
// Возвращает false, если результат устарел.
func (s *Session) finish(t ticket) bool {
	if s.generation != t.generation {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.busy = false
	s.cancel = nil
	return true
}

// Reset атомарно очищает сессию и отменяет выполняющийся запрос
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.busy = false
	s.generation++

	s.conv.Reset()
	s.analysisOutput = nil
	s.monthKey = ""
	s.dataset = nil
	s.runHandle = nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, s.busy
}

// State - снимок состояния сессии для клиента
type State struct {
	SessionID      string                    `json:"session_id"`
	MonthKey       string                    `json:"month,omitempty"`
	AnalysisOutput *string                   `json:"analysis_output"`
	History        []models.ConversationTurn `json:"history"`
	FollowupCount  int                       `json:"followup_count"`
	FollowupsLeft  int                       `json:"followups_left"`
	Busy           bool                      `json:"busy"`
	HasRunHandle   bool                      `json:"has_run_handle"`
	CanRun         bool                      `json:"can_run"`
	CanAsk         bool                      `json:"can_ask"`
	CanReset       bool                      `json:"can_reset"`
	CanExport      bool                      `json:"can_export"`
}

// Snapshot возвращает согласованный снимок состояния
func (s *Session) Snapshot(mode string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(mode)
}

func (s *Session) snapshotLocked(mode string) State {
	has := s.analysisOutput != nil
	st := State{
		SessionID:     s.ID,
		MonthKey:      s.monthKey,
		History:       s.conv.History(),
		FollowupCount: s.conv.FollowupCount(),
		FollowupsLeft: s.conv.FollowupsLeft(),
		Busy:          s.busy,
		HasRunHandle:  s.runHandle != nil,
		CanRun:        !has && !s.busy,
		CanReset:      has || s.busy,
		CanExport:     has && !s.busy,
	}
	if has {
		out := *s.analysisOutput
		st.AnalysisOutput = &out
	}
	st.CanAsk = has && !s.busy && s.conv.CanAskFollowup() && (mode != config.ModeAsync || s.runHandle != nil)
	return st
}

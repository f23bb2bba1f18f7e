package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marketing-insights-api/internal/models"
)

func TestConversation_Quota(t *testing.T) {
	var c Conversation
	require.NoError(t, c.AppendTurn(models.RoleSystem, "sys"))
	require.NoError(t, c.AppendTurn(models.RoleUser, "prompt"))
	require.NoError(t, c.AppendTurn(models.RoleAssistant, "analysis"))

	for i := 0; i < MaxFollowups; i++ {
		require.True(t, c.CanAskFollowup())
		require.NoError(t, c.RecordFollowup("q", "a"))
	}

	assert.False(t, c.CanAskFollowup())
	assert.ErrorIs(t, c.RecordFollowup("q4", "a4"), ErrQuotaExceeded)
	assert.Len(t, c.History(), 3+2*MaxFollowups)
	assert.Equal(t, MaxFollowups, c.FollowupCount())
	assert.Zero(t, c.FollowupsLeft())
}

func TestConversation_RejectsUnknownRole(t *testing.T) {
	var c Conversation
	assert.ErrorIs(t, c.AppendTurn(models.Role("tool"), "x"), ErrInvalidRole)
	assert.Empty(t, c.History())
}

func TestConversation_Reset(t *testing.T) {
	var c Conversation
	_ = c.AppendTurn(models.RoleUser, "q")
	_ = c.RecordFollowup("q", "a")

	c.Reset()

	assert.Empty(t, c.History())
	assert.Zero(t, c.FollowupCount())
	assert.True(t, c.CanAskFollowup())
}

func TestConversation_HistoryIsCopy(t *testing.T) {
	var c Conversation
	_ = c.AppendTurn(models.RoleUser, "q")

	h := c.History()
	h[0].Content = "changed"

	assert.Equal(t, "q", c.History()[0].Content)
}

func TestStore_GetOrCreateAndSweep(t *testing.T) {
	store := NewStore()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	a := store.GetOrCreate("a")
	assert.Same(t, a, store.GetOrCreate("a"))
	generated := store.Create()
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, 2, store.Len())

	now = now.Add(90 * time.Minute)
	store.GetOrCreate("a")

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, store.SweepIdle(time.Hour))

	_, ok := store.Get(generated.ID)
	assert.False(t, ok)
	_, ok = store.Get("a")
	assert.True(t, ok)

	store.Delete("a")
	assert.Zero(t, store.Len())
}

func TestStore_SweepSkipsBusy(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	s := store.GetOrCreate("busy")
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	now = now.Add(24 * time.Hour)
	assert.Zero(t, store.SweepIdle(time.Minute))
}

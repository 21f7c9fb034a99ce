package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T, idle time.Duration) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{Logger: logging.Nop(), IdleTimeout: idle})
	t.Cleanup(m.Close)
	return m
}

func waitForTypes(t *testing.T, s *fakeSocket, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sent) >= n
	}, time.Second, 5*time.Millisecond)
}

func TestManager_RoutesPerDocument(t *testing.T) {
	m := newTestManager(t, time.Minute)
	a := newFakeSocket("a")
	b := newFakeSocket("b")
	other := newFakeSocket("other")

	require.NoError(t, m.Connect("doc-1", a, customer("s-a")))
	require.NoError(t, m.Connect("doc-1", b, team("s-b", "Ana")))
	require.NoError(t, m.Connect("doc-2", other, team("s-o", "Ola")))
	require.NoError(t, m.Message("doc-1", a, []byte(`{"type":"scroll","data":{"scrollDepth":25}}`)))

	viewers, err := m.Viewers(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, viewers, 2)
	assert.Equal(t, 2, m.ActiveHubs())

	// b: joined(b), list, scroll
	waitForTypes(t, b, 3)
	assert.Equal(t, models.EventScroll, b.types(t)[2])
	waitForTypes(t, other, 2)
	assert.Equal(t, []models.EventType{models.EventViewerJoined, models.EventViewersList}, other.types(t))
}

func TestManager_ViewersForUnknownDocument(t *testing.T) {
	m := newTestManager(t, time.Minute)

	viewers, err := m.Viewers(context.Background(), "nobody-here")
	require.NoError(t, err)
	assert.Empty(t, viewers)
	assert.Equal(t, 0, m.ActiveHubs())
}

func TestManager_HibernatesAndRestores(t *testing.T) {
	m := newTestManager(t, 20*time.Millisecond)
	c := newFakeSocket("c")
	tm := newFakeSocket("tm")

	require.NoError(t, m.Connect("doc-1", c, customer("s-c")))
	require.NoError(t, m.Connect("doc-1", tm, team("s-tm", "Ana")))

	before, err := m.Viewers(context.Background(), "doc-1")
	require.NoError(t, err)
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.ActiveHubs() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.OpenSockets("doc-1"))

	c.reset()
	tm.reset()

	after, err := m.Viewers(context.Background(), "doc-1")
	require.NoError(t, err)
	afterJSON, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(beforeJSON), string(afterJSON))

	// The restored hub keeps routing and announces nothing on wake-up.
	require.NoError(t, m.Message("doc-1", c, []byte(`{"type":"section_view","data":{"sectionId":"terms"}}`)))
	waitForTypes(t, tm, 1)
	assert.Equal(t, []models.EventType{models.EventSectionView}, tm.types(t))
	assert.Empty(t, c.events(t))
}

func TestManager_DisconnectAfterHibernation(t *testing.T) {
	m := newTestManager(t, 20*time.Millisecond)
	c := newFakeSocket("c")
	tm := newFakeSocket("tm")

	require.NoError(t, m.Connect("doc-1", c, customer("s-c")))
	require.NoError(t, m.Connect("doc-1", tm, team("s-tm", "Ana")))
	require.Eventually(t, func() bool { return m.ActiveHubs() == 0 }, time.Second, 5*time.Millisecond)
	tm.reset()

	// Same order as the websocket handler: the socket is closed only after
	// the hub has seen the disconnect.
	require.NoError(t, m.Disconnect("doc-1", c))
	require.NoError(t, c.Close())

	waitForTypes(t, tm, 1)
	evs := tm.events(t)
	assert.Equal(t, models.EventViewerLeft, evs[0].Type)
	assert.Equal(t, "s-c", evs[0].SessionID)
	assert.Equal(t, 1, m.OpenSockets("doc-1"))
}

func TestManager_LastDisconnectForgetsDocument(t *testing.T) {
	m := newTestManager(t, 20*time.Millisecond)
	c := newFakeSocket("c")

	require.NoError(t, m.Connect("doc-1", c, customer("s-c")))
	require.NoError(t, m.Disconnect("doc-1", c))

	require.Eventually(t, func() bool {
		return m.ActiveHubs() == 0 && m.OpenSockets("doc-1") == 0
	}, time.Second, 5*time.Millisecond)

	viewers, err := m.Viewers(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, viewers)
	assert.Equal(t, 0, m.ActiveHubs())
}

func TestManager_ClosedRejectsWork(t *testing.T) {
	m := NewManager(ManagerOptions{Logger: logging.Nop()})
	require.NoError(t, m.Connect("doc-1", newFakeSocket("c"), customer("s-c")))
	m.Close()
	m.Close()

	assert.ErrorIs(t, m.Message("doc-1", newFakeSocket("c"), []byte(`{"type":"ping"}`)), ErrManagerClosed)
}

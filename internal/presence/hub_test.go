package presence

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/models"
)

type fakeSocket struct {
	id string

	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	failSend   bool
	attachment []byte
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id}
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend || s.closed {
		return errors.New("socket unavailable")
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Attachment() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// SetAttachment is ignored once the socket is closed, like the real one.
func (s *fakeSocket) SetAttachment(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.attachment = data
}

func (s *fakeSocket) events(t *testing.T) []models.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, 0, len(s.sent))
	for _, raw := range s.sent {
		var ev models.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (s *fakeSocket) types(t *testing.T) []models.EventType {
	t.Helper()
	var out []models.EventType
	for _, ev := range s.events(t) {
		out = append(out, ev.Type)
	}
	return out
}

func (s *fakeSocket) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T) (*Hub, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testStart)
	return NewHub("doc-1", clock, logging.Nop()), clock
}

func customer(id string) ConnectParams {
	return ConnectParams{SessionID: id, UserType: models.UserTypeCustomer, DeviceType: models.DeviceDesktop, BrowserName: "Chrome"}
}

func team(id, name string) ConnectParams {
	return ConnectParams{SessionID: id, UserType: models.UserTypeTeam, UserID: "u-" + id, UserName: name}
}

func TestHub_ConnectSendsJoinThenViewersList(t *testing.T) {
	hub, _ := newTestHub(t)
	a := newFakeSocket("sock-a")
	b := newFakeSocket("sock-b")

	hub.Connect(a, customer("s-a"))
	assert.Equal(t, []models.EventType{models.EventViewerJoined, models.EventViewersList}, a.types(t))

	list := a.events(t)[1]
	require.Len(t, list.Viewers, 1)
	assert.Equal(t, "s-a", list.Viewers[0].SessionID)

	a.reset()
	hub.Connect(b, team("s-b", "Dana"))

	aEvents := a.events(t)
	require.Len(t, aEvents, 1)
	assert.Equal(t, models.EventViewerJoined, aEvents[0].Type)
	assert.Equal(t, "s-b", aEvents[0].SessionID)
	assert.Equal(t, models.UserTypeTeam, aEvents[0].UserType)
	assert.Equal(t, "Dana", aEvents[0].UserName)

	bEvents := b.events(t)
	require.Len(t, bEvents, 2)
	assert.Equal(t, models.EventViewersList, bEvents[1].Type)
	assert.Len(t, bEvents[1].Viewers, 2)
}

func TestHub_ScrollIsTeamOnly(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	c2 := newFakeSocket("c2")
	t1 := newFakeSocket("t1")
	t2 := newFakeSocket("t2")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(c2, customer("s-c2"))
	hub.Connect(t1, team("s-t1", "Ana"))
	hub.Connect(t2, team("s-t2", "Ben"))
	for _, s := range []*fakeSocket{c1, c2, t1, t2} {
		s.reset()
	}

	hub.OnMessage(c1, []byte(`{"type":"scroll","data":{"scrollDepth":50}}`))

	assert.Empty(t, c1.events(t))
	assert.Empty(t, c2.events(t))
	for _, s := range []*fakeSocket{t1, t2} {
		evs := s.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, models.EventScroll, evs[0].Type)
		assert.Equal(t, "s-c1", evs[0].SessionID)
		assert.JSONEq(t, `{"scrollDepth":50}`, string(evs[0].Data))
	}
}

func TestHub_TeamOnlyTypes(t *testing.T) {
	types := []string{"section_view", "idle_start", "idle_end", "tab_blur", "tab_focus", "signature_start", "copy_text", "future_event"}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			hub, _ := newTestHub(t)
			c1 := newFakeSocket("c1")
			c2 := newFakeSocket("c2")
			tm := newFakeSocket("tm")
			hub.Connect(c1, customer("s-c1"))
			hub.Connect(c2, customer("s-c2"))
			hub.Connect(tm, team("s-tm", "Ana"))
			c1.reset()
			c2.reset()
			tm.reset()

			hub.OnMessage(c1, []byte(`{"type":"`+typ+`"}`))

			assert.Empty(t, c2.events(t))
			assert.Equal(t, []models.EventType{models.EventType(typ)}, tm.types(t))
		})
	}
}

func TestHub_OptionToggleGoesToAll(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	c2 := newFakeSocket("c2")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(c2, customer("s-c2"))
	hub.Connect(tm, team("s-tm", "Ana"))
	c1.reset()
	c2.reset()
	tm.reset()

	hub.OnMessage(c1, []byte(`{"type":"option_toggle","data":{"optionId":"opt-2","selected":true}}`))

	for _, s := range []*fakeSocket{c1, c2, tm} {
		evs := s.events(t)
		require.Len(t, evs, 1, s.id)
		assert.Equal(t, models.EventOptionToggle, evs[0].Type)
		assert.JSONEq(t, `{"optionId":"opt-2","selected":true}`, string(evs[0].Data))
	}
}

func TestHub_PingRepliesToSenderOnly(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(tm, team("s-tm", "Ana"))
	c1.reset()
	tm.reset()

	hub.OnMessage(c1, []byte(`{"type":"ping"}`))

	assert.Equal(t, []models.EventType{models.EventPong}, c1.types(t))
	assert.Empty(t, tm.events(t))
}

func TestHub_MalformedInputIsDropped(t *testing.T) {
	inputs := map[string]string{
		"not json":       `scroll please`,
		"array":          `[1,2,3]`,
		"missing type":   `{"data":{"scrollDepth":10}}`,
		"empty type":     `{"type":""}`,
		"numeric type":   `{"type":42}`,
		"reserved type":  `{"type":"viewer_left","sessionId":"someone-else"}`,
		"spoofed list":   `{"type":"viewers_list","viewers":[]}`,
		"spoofed pong":   `{"type":"pong"}`,
		"null":           `null`,
		"truncated json": `{"type":"scroll"`,
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			hub, _ := newTestHub(t)
			c1 := newFakeSocket("c1")
			tm := newFakeSocket("tm")
			hub.Connect(c1, customer("s-c1"))
			hub.Connect(tm, team("s-tm", "Ana"))
			c1.reset()
			tm.reset()

			hub.OnMessage(c1, []byte(raw))

			assert.Empty(t, c1.events(t))
			assert.Empty(t, tm.events(t))
			assert.False(t, c1.isClosed())
			assert.Equal(t, 2, hub.Len())
		})
	}
}

func TestHub_FlatPayloadBecomesData(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(tm, team("s-tm", "Ana"))
	tm.reset()

	hub.OnMessage(c1, []byte(`{"type":"section_view","sectionId":"pricing"}`))

	evs := tm.events(t)
	require.Len(t, evs, 1)
	assert.JSONEq(t, `{"sectionId":"pricing"}`, string(evs[0].Data))
}

func TestHub_CloseBroadcastsViewerLeft(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(tm, team("s-tm", "Ana"))
	tm.reset()

	hub.OnClose(c1)

	evs := tm.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventViewerLeft, evs[0].Type)
	assert.Equal(t, "s-c1", evs[0].SessionID)
	assert.Equal(t, 1, hub.Len())

	// A second close for the same socket is a no-op.
	tm.reset()
	hub.OnClose(c1)
	assert.Empty(t, tm.events(t))
}

func TestHub_SendFailureEvictsSocket(t *testing.T) {
	hub, _ := newTestHub(t)
	c1 := newFakeSocket("c1")
	broken := newFakeSocket("broken")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	hub.Connect(broken, team("s-broken", "Gone"))
	hub.Connect(tm, team("s-tm", "Ana"))
	tm.reset()

	broken.mu.Lock()
	broken.failSend = true
	broken.mu.Unlock()

	hub.OnMessage(c1, []byte(`{"type":"scroll","data":{"scrollDepth":25}}`))

	assert.True(t, broken.isClosed())
	assert.Nil(t, broken.Attachment())
	assert.Equal(t, 2, hub.Len())
	assert.Equal(t, []models.EventType{models.EventScroll, models.EventViewerLeft}, tm.types(t))

	for _, v := range hub.GetViewers() {
		assert.NotEqual(t, "s-broken", v.SessionID)
	}
}

func TestHub_ReconnectReplacesStaleSocket(t *testing.T) {
	hub, _ := newTestHub(t)
	old := newFakeSocket("old")
	fresh := newFakeSocket("fresh")
	tm := newFakeSocket("tm")
	hub.Connect(tm, team("s-tm", "Ana"))
	hub.Connect(old, customer("s-c1"))
	tm.reset()

	hub.Connect(fresh, customer("s-c1"))

	assert.True(t, old.isClosed())
	assert.Nil(t, old.Attachment())
	assert.NotNil(t, fresh.Attachment())
	assert.Equal(t, 2, hub.Len())
	assert.Equal(t, []models.EventType{models.EventViewerJoined}, tm.types(t))

	// The late close of the replaced socket must not announce a departure.
	tm.reset()
	hub.OnClose(old)
	assert.Empty(t, tm.events(t))
}

func TestHub_MessageUpdatesLastActive(t *testing.T) {
	hub, clock := newTestHub(t)
	c1 := newFakeSocket("c1")
	hub.Connect(c1, customer("s-c1"))

	clock.Advance(42 * time.Second)
	hub.OnMessage(c1, []byte(`{"type":"tab_focus"}`))

	viewers := hub.GetViewers()
	require.Len(t, viewers, 1)
	assert.Equal(t, testStart, viewers[0].ConnectedAt)
	assert.Equal(t, testStart.Add(42*time.Second), viewers[0].LastActiveAt)

	stored, err := decodeAttachment(c1.Attachment())
	require.NoError(t, err)
	assert.Equal(t, viewers[0], stored)
}

func TestHub_MalformedMessageDoesNotTouchLastActive(t *testing.T) {
	hub, clock := newTestHub(t)
	c1 := newFakeSocket("c1")
	hub.Connect(c1, customer("s-c1"))

	clock.Advance(5 * time.Second)
	hub.OnMessage(c1, []byte(`garbage`))

	assert.Equal(t, testStart, hub.GetViewers()[0].LastActiveAt)
}

func TestHub_GetViewersOrderedByConnectTime(t *testing.T) {
	hub, clock := newTestHub(t)
	for _, id := range []string{"z", "y", "x"} {
		hub.Connect(newFakeSocket("sock-"+id), customer(id))
		clock.Advance(time.Second)
	}

	var got []string
	for _, v := range hub.GetViewers() {
		got = append(got, v.SessionID)
	}
	assert.Equal(t, []string{"z", "y", "x"}, got)
}

func TestHub_RestoreIsTransparent(t *testing.T) {
	hub, clock := newTestHub(t)
	c1 := newFakeSocket("c1")
	c2 := newFakeSocket("c2")
	tm := newFakeSocket("tm")
	hub.Connect(c1, customer("s-c1"))
	clock.Advance(time.Second)
	hub.Connect(tm, team("s-tm", "Ana"))
	clock.Advance(time.Second)
	hub.Connect(c2, ConnectParams{SessionID: "s-c2", UserType: models.UserTypeCustomer})
	clock.Advance(3 * time.Second)
	hub.OnMessage(c1, []byte(`{"type":"scroll","data":{"scrollDepth":75}}`))

	before, err := json.Marshal(hub.GetViewers())
	require.NoError(t, err)

	for _, s := range []*fakeSocket{c1, c2, tm} {
		s.reset()
	}
	restored := RestoreHub("doc-1", []Socket{tm, c2, c1}, clock, logging.Nop())

	after, err := json.Marshal(restored.GetViewers())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// Restoring emits nothing.
	for _, s := range []*fakeSocket{c1, c2, tm} {
		assert.Empty(t, s.events(t))
	}

	// Routing keeps working on the restored registry.
	restored.OnMessage(c2, []byte(`{"type":"scroll","data":{"scrollDepth":10}}`))
	assert.Equal(t, []models.EventType{models.EventScroll}, tm.types(t))
	assert.Empty(t, c1.events(t))
}

func TestHub_RestoreClosesUnreadableSockets(t *testing.T) {
	clock := quartz.NewMock(t)
	good := newFakeSocket("good")
	good.SetAttachment(encodeAttachment(models.Session{SessionID: "s-good", UserType: models.UserTypeCustomer}))
	bad := newFakeSocket("bad")
	bad.SetAttachment([]byte(`{not json`))
	empty := newFakeSocket("empty")

	hub := RestoreHub("doc-1", []Socket{good, bad, empty}, clock, logging.Nop())

	assert.Equal(t, 1, hub.Len())
	assert.False(t, good.isClosed())
	assert.True(t, bad.isClosed())
	assert.True(t, empty.isClosed())
}

func TestHub_MessageFromUnknownSocketIsIgnored(t *testing.T) {
	hub, _ := newTestHub(t)
	tm := newFakeSocket("tm")
	hub.Connect(tm, team("s-tm", "Ana"))
	tm.reset()

	stray := newFakeSocket("stray")
	stray.SetAttachment(encodeAttachment(models.Session{SessionID: "s-stray", UserType: models.UserTypeCustomer, ConnectedAt: testStart}))

	hub.OnMessage(stray, []byte(`{"type":"scroll","data":{"scrollDepth":5}}`))

	assert.Equal(t, 1, hub.Len())
	assert.False(t, stray.isClosed())
	assert.Empty(t, tm.events(t))
}

func TestHub_DroppedSocketsStayOutOfRestore(t *testing.T) {
	hub, clock := newTestHub(t)
	tm := newFakeSocket("tm")
	old := newFakeSocket("old")
	broken := newFakeSocket("broken")
	hub.Connect(tm, team("s-tm", "Ana"))
	hub.Connect(old, customer("s-c1"))
	hub.Connect(broken, customer("s-c2"))

	fresh := newFakeSocket("fresh")
	hub.Connect(fresh, customer("s-c1"))
	broken.mu.Lock()
	broken.failSend = true
	broken.mu.Unlock()
	hub.OnMessage(fresh, []byte(`{"type":"option_toggle","data":{"optionId":"o1"}}`))

	restored := RestoreHub("doc-1", []Socket{tm, old, broken, fresh}, clock, logging.Nop())

	var ids []string
	for _, v := range restored.GetViewers() {
		ids = append(ids, v.SessionID)
	}
	assert.ElementsMatch(t, []string{"s-tm", "s-c1"}, ids)
	assert.Equal(t, 2, restored.Len())
}

func TestParseConnectParams(t *testing.T) {
	const iphone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"

	t.Run("explicit values win", func(t *testing.T) {
		q := url.Values{}
		q.Set("sessionId", "abc")
		q.Set("userType", "team")
		q.Set("userName", "Ana")
		q.Set("deviceType", "tablet")
		q.Set("browserName", "Firefox")

		p := ParseConnectParams(q, iphone)
		assert.Equal(t, "abc", p.SessionID)
		assert.Equal(t, models.UserTypeTeam, p.UserType)
		assert.Equal(t, "Ana", p.UserName)
		assert.Equal(t, models.DeviceTablet, p.DeviceType)
		assert.Equal(t, "Firefox", p.BrowserName)
	})

	t.Run("defaults", func(t *testing.T) {
		p := ParseConnectParams(url.Values{}, iphone)
		assert.NotEmpty(t, p.SessionID)
		assert.Equal(t, models.UserTypeCustomer, p.UserType)
		assert.Equal(t, models.DeviceMobile, p.DeviceType)
		assert.Equal(t, "Safari", p.BrowserName)
	})

	t.Run("unknown user type is customer", func(t *testing.T) {
		q := url.Values{}
		q.Set("userType", "admin")
		assert.Equal(t, models.UserTypeCustomer, ParseConnectParams(q, "").UserType)
	})
}

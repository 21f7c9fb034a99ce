// Package tracker instruments one viewing session of a quote document. It
// emits every activity event twice: best-effort over the live hub
// connection, and as a durable write to the ingest API.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/models"
	"quotepulse-backend/internal/wsclient"
)

const (
	defaultScrollThrottle = 500 * time.Millisecond
	defaultIdleTimeout    = 30 * time.Second

	durableTimeout = 10 * time.Second
	beaconTimeout  = 5 * time.Second
)

type Config struct {
	DocumentID string
	// TabID scopes the session slot. Reusing it across restarts resumes the
	// same session; an empty TabID gets a fresh one.
	TabID string
	// BaseURL is the API root, e.g. https://quotes.example.com/api/v1.
	BaseURL string

	UserType     models.UserType
	UserID       string
	UserName     string
	DeviceType   models.DeviceType
	BrowserName  string
	OSName       string
	PageLoadTime time.Duration

	DisableLive       bool
	DisableScroll     bool
	DisableVisibility bool
	DisableIdle       bool
	DisableCopy       bool
	DisableUnload     bool

	ScrollThrottle time.Duration
	IdleTimeout    time.Duration
	Reconnect      wsclient.Policy
}

type Option func(*Tracker)

func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithDeliverer(d Deliverer) Option {
	return func(t *Tracker) { t.deliverer = d }
}

func WithDialer(d wsclient.Dialer) Option {
	return func(t *Tracker) { t.dialer = d }
}

func WithSessionStore(s SessionStore) Option {
	return func(t *Tracker) { t.store = s }
}

type Tracker struct {
	cfg       Config
	clock     quartz.Clock
	logger    zerolog.Logger
	deliverer Deliverer
	dialer    wsclient.Dialer
	store     SessionStore

	mu           sync.Mutex
	initialized  bool
	destroyed    bool
	sessionID    string
	pageViewID   string
	seq          int
	startedAt    time.Time
	sections     map[string]struct{}
	maxDepth     int
	milestone    int
	pending      *Position
	scrollTimer  *quartz.Timer
	scrollArmed  bool
	idleTimer    *quartz.Timer
	idle         bool
	idleSince    time.Time
	lastActivity time.Time
	hidden       bool
	live         *wsclient.Client

	inflight sync.WaitGroup
}

func New(cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.DocumentID == "" {
		return nil, errors.New("tracker: document id is required")
	}
	if cfg.TabID == "" {
		cfg.TabID = uuid.NewString()
	}
	if cfg.UserType == "" {
		cfg.UserType = models.UserTypeCustomer
	}
	if cfg.ScrollThrottle <= 0 {
		cfg.ScrollThrottle = defaultScrollThrottle
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	t := &Tracker{
		cfg:      cfg,
		clock:    quartz.NewReal(),
		logger:   zerolog.Nop(),
		sections: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.deliverer == nil {
		if cfg.BaseURL == "" {
			return nil, errors.New("tracker: base url or deliverer is required")
		}
		t.deliverer = NewHTTPDeliverer(cfg.BaseURL, nil)
	}
	if !cfg.DisableLive && cfg.BaseURL == "" {
		return nil, errors.New("tracker: base url is required for the live connection")
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	t.logger = t.logger.With().Str("document_id", cfg.DocumentID).Logger()
	return t, nil
}

// Init resolves the session, opens the live connection and emits page_open.
// Later calls do nothing.
func (t *Tracker) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized || t.destroyed {
		return
	}
	t.initialized = true

	sessionID, resumed := t.resolveSession()
	t.sessionID = sessionID
	t.pageViewID = uuid.NewString()
	t.startedAt = t.clock.Now()
	t.lastActivity = t.startedAt

	if !t.cfg.DisableLive {
		t.startLiveLocked()
	}

	t.emitLocked(models.EventPageOpen, map[string]any{
		"pageViewId": t.pageViewID,
		"resumed":    resumed,
	})

	if !t.cfg.DisableIdle {
		t.idleTimer = t.clock.AfterFunc(t.cfg.IdleTimeout, t.onIdle, "tracker", "idle")
	}
}

// Destroy emits page_close with session totals through the beacon path,
// closes the live connection and stops all timers. It is safe to call from
// both an explicit navigation and the unload observer.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	if !t.initialized {
		t.mu.Unlock()
		return
	}

	stats := map[string]any{
		"elapsedSeconds": int(t.clock.Since(t.startedAt).Seconds()),
		"maxScrollDepth": t.maxDepth,
		"sectionsViewed": len(t.sections),
	}
	data, _ := json.Marshal(stats)
	t.sendLiveLocked(models.EventPageClose, stats)
	req := t.ingestLocked(models.EventPageClose, data)

	if t.scrollTimer != nil {
		t.scrollTimer.Stop("tracker", "scroll")
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop("tracker", "idle")
	}
	live := t.live
	t.live = nil
	t.mu.Unlock()

	t.beacon(req)
	if live != nil {
		live.Close()
	}
}

// TrackSectionView emits section_view at most once per section.
func (t *Tracker) TrackSectionView(sectionID, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() {
		return
	}
	if _, seen := t.sections[sectionID]; seen {
		return
	}
	t.sections[sectionID] = struct{}{}
	t.emitLocked(models.EventSectionView, map[string]any{
		"sectionId":    sectionID,
		"sectionTitle": title,
	})
}

func (t *Tracker) TrackOptionToggle(optionID, name string, selected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() {
		return
	}
	t.emitLocked(models.EventOptionToggle, map[string]any{
		"optionId":   optionID,
		"optionName": name,
		"selected":   selected,
	})
}

func (t *Tracker) TrackSignatureStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() {
		return
	}
	t.emitLocked(models.EventSignatureStart, map[string]any{})
}

// SessionID is empty until Init.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// LiveConnected reports whether the hub connection is currently open.
func (t *Tracker) LiveConnected() bool {
	t.mu.Lock()
	live := t.live
	t.mu.Unlock()
	return live != nil && live.Connected()
}

// Wait blocks until every durable write started so far has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

func (t *Tracker) activeLocked() bool {
	return t.initialized && !t.destroyed
}

func (t *Tracker) resolveSession() (string, bool) {
	key := sessionKey(t.cfg.DocumentID, t.cfg.TabID)
	id, ok, err := t.store.Load(key)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to read session slot")
	}
	if ok {
		return id, true
	}
	id = uuid.NewString()
	if err := t.store.Save(key, id); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist session slot")
	}
	return id, false
}

func (t *Tracker) startLiveLocked() {
	q := url.Values{}
	q.Set("sessionId", t.sessionID)
	q.Set("userType", string(t.cfg.UserType))
	if t.cfg.UserID != "" {
		q.Set("userId", t.cfg.UserID)
	}
	if t.cfg.UserName != "" {
		q.Set("userName", t.cfg.UserName)
	}
	if t.cfg.DeviceType != "" {
		q.Set("deviceType", string(t.cfg.DeviceType))
	}
	if t.cfg.BrowserName != "" {
		q.Set("browserName", t.cfg.BrowserName)
	}

	hubURL, err := wsclient.HubURL(t.cfg.BaseURL, t.cfg.DocumentID, q)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Live connection disabled")
		return
	}
	t.live = wsclient.New(wsclient.Config{
		URL:    hubURL,
		Dialer: t.dialer,
		Policy: t.cfg.Reconnect,
		Clock:  t.clock,
		Logger: t.logger,
	})
	t.live.Start()
}

// emitLocked sends one event on both paths. Neither path waits for the
// other.
func (t *Tracker) emitLocked(eventType models.EventType, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		t.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to encode event data")
		return
	}
	t.sendLiveLocked(eventType, data)

	req := t.ingestLocked(eventType, payload)
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), durableTimeout)
		defer cancel()
		if err := t.deliverer.Deliver(ctx, t.cfg.DocumentID, req); err != nil {
			t.logger.Warn().Err(err).Str("event_type", string(req.EventType)).Msg("Durable write failed")
		}
	}()
}

func (t *Tracker) sendLiveLocked(eventType models.EventType, data map[string]any) {
	if t.live == nil {
		return
	}
	msg, err := json.Marshal(models.ClientMessage{Type: eventType, Data: data})
	if err != nil {
		return
	}
	t.live.Send(msg)
}

// beacon runs the terminal write detached from the tracker's lifetime.
func (t *Tracker) beacon(req models.IngestRequest) {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		if err := t.deliverer.Beacon(ctx, t.cfg.DocumentID, req); err != nil {
			t.logger.Warn().Err(err).Msg("Beacon failed")
		}
	}()
}

func (t *Tracker) ingestLocked(eventType models.EventType, data json.RawMessage) models.IngestRequest {
	t.seq++
	req := models.IngestRequest{
		SessionID:   t.sessionID,
		EventType:   eventType,
		EventData:   data,
		DeviceType:  t.cfg.DeviceType,
		BrowserName: t.cfg.BrowserName,
		OSName:      t.cfg.OSName,
		ClientSeq:   fmt.Sprintf("%s:%d", t.pageViewID, t.seq),
	}
	if eventType == models.EventPageOpen && t.cfg.PageLoadTime > 0 {
		ms := t.cfg.PageLoadTime.Milliseconds()
		req.PageLoadTime = &ms
	}
	return req
}

// Package dashboard is the operator-side consumer of a quote's presence hub.
// It keeps a live viewer map and a bounded activity feed for the selected
// document.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/models"
	"quotepulse-backend/internal/wsclient"
)

const defaultBackfillLimit = 50

type Config struct {
	// BaseURL is the API root, e.g. https://quotes.example.com/api/v1.
	BaseURL string
	// Token is sent as a bearer token to the read API.
	Token     string
	SessionID string
	UserID    string
	UserName  string

	BackfillLimit int
	Reconnect     wsclient.Policy
}

type Option func(*Consumer)

func WithDialer(d wsclient.Dialer) Option {
	return func(c *Consumer) { c.dialer = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Consumer) { c.httpClient = hc }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// WithClock sets the clock driving reconnect delays.
func WithClock(clock quartz.Clock) Option {
	return func(c *Consumer) { c.clock = clock }
}

type Consumer struct {
	cfg        Config
	baseURL    string
	dialer     wsclient.Dialer
	httpClient *http.Client
	clock      quartz.Clock
	logger     zerolog.Logger
	updates    chan struct{}

	mu             sync.Mutex
	closed         bool
	gen            uint64
	current        string
	client         *wsclient.Client
	feed           feed
	viewers        map[string][]models.Session
	activeSessions []models.ActiveSession
}

func New(cfg Config, opts ...Option) (*Consumer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dashboard: base url is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = defaultBackfillLimit
	}

	c := &Consumer{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      quartz.NewReal(),
		logger:     zerolog.Nop(),
		updates:    make(chan struct{}, 1),
		viewers:    make(map[string][]models.Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Select switches the consumer to documentID. The previous connection is
// closed, the feed is replaced by a backfill of the new document, and a
// fresh team connection with its own backoff state is opened. A backfill
// failure is returned but the live connection is still opened.
//
// Live viewers of the previous document are forgotten, since nothing keeps
// them current once its connection is closed. RefreshViewers fills them in
// again from the polling endpoint.
func (c *Consumer) Select(ctx context.Context, documentID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("dashboard: consumer is closed")
	}
	c.gen++
	gen := c.gen
	prev := c.client
	c.client = nil
	if c.current != "" && c.current != documentID {
		delete(c.viewers, c.current)
	}
	c.current = documentID
	c.feed.reset(nil)
	c.activeSessions = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	c.notify()

	backfill, backfillErr := c.fetchActivities(ctx, documentID)
	if backfillErr != nil {
		c.logger.Warn().Err(backfillErr).Str("document_id", documentID).Msg("Backfill failed")
	}

	hubURL, err := wsclient.HubURL(c.baseURL, documentID, c.connectParams())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	if backfill != nil {
		entries := make([]FeedEntry, 0, len(backfill.Activities))
		for _, rec := range backfill.Activities {
			entries = append(entries, FeedEntry{
				DocumentID: documentID,
				Type:       rec.EventType,
				SessionID:  rec.SessionID,
				Data:       rec.EventData,
				Summary:    Summarize(rec.EventType, rec.EventData),
				Timestamp:  rec.CreatedAt,
				Source:     SourceBackfill,
			})
		}
		c.feed.reset(entries)
		c.activeSessions = backfill.ActiveSessions
	}
	client := wsclient.New(wsclient.Config{
		URL:    hubURL,
		Dialer: c.dialer,
		Policy: c.cfg.Reconnect,
		Clock:  c.clock,
		Logger: c.logger.With().Str("document_id", documentID).Logger(),
		OnMessage: func(data []byte) {
			c.handle(gen, documentID, data)
		},
		OnStateChange: func(bool) { c.notify() },
		OnExhausted:   c.notify,
	})
	c.client = client
	c.mu.Unlock()

	client.Start()
	c.notify()
	return backfillErr
}

// RefreshViewers fills the viewer map for documents other than the
// selected one from the polling endpoint.
func (c *Consumer) RefreshViewers(ctx context.Context, documentIDs ...string) error {
	var errs []error
	for _, id := range documentIDs {
		sessions, err := c.fetchViewers(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.mu.Lock()
		c.viewers[id] = models.FilterCustomers(sessions)
		c.mu.Unlock()
	}
	c.notify()
	return errors.Join(errs...)
}

// Current is the selected document id.
func (c *Consumer) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Feed returns the activity feed, most recent first.
func (c *Consumer) Feed() []FeedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed.snapshot()
}

// Viewers returns the customer sessions currently viewing documentID.
func (c *Consumer) Viewers(documentID string) []models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Session, len(c.viewers[documentID]))
	copy(out, c.viewers[documentID])
	return out
}

// ViewerCounts maps every known document to its number of customer viewers.
func (c *Consumer) ViewerCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.viewers))
	for id, sessions := range c.viewers {
		out[id] = len(sessions)
	}
	return out
}

// ActiveSessions is the durable view of recent sessions from the backfill.
func (c *Consumer) ActiveSessions() []models.ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ActiveSession, len(c.activeSessions))
	copy(out, c.activeSessions)
	return out
}

// Connected reports the live connection state for the "not connected"
// indicator. State is kept when the connection is lost.
func (c *Consumer) Connected() bool {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	return client != nil && client.Connected()
}

// Updates signals that state changed. Signals coalesce.
func (c *Consumer) Updates() <-chan struct{} {
	return c.updates
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

func (c *Consumer) connectParams() url.Values {
	q := url.Values{}
	q.Set("sessionId", c.cfg.SessionID)
	q.Set("userType", string(models.UserTypeTeam))
	if c.cfg.UserID != "" {
		q.Set("userId", c.cfg.UserID)
	}
	if c.cfg.UserName != "" {
		q.Set("userName", c.cfg.UserName)
	}
	return q
}

// handle applies one hub event. Events from a connection that was
// superseded by a later Select are dropped.
func (c *Consumer) handle(gen uint64, documentID string, data []byte) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch ev.Type {
	case models.EventViewersList:
		c.viewers[documentID] = models.FilterCustomers(ev.Viewers)
	case models.EventViewerJoined:
		if ev.UserType == models.UserTypeCustomer {
			c.viewers[documentID] = upsertSession(c.viewers[documentID], sessionFromEvent(ev))
		}
	case models.EventViewerLeft:
		c.viewers[documentID] = removeSession(c.viewers[documentID], ev.SessionID)
	case models.EventPong:
	default:
		c.feed.push(FeedEntry{
			DocumentID: documentID,
			Type:       ev.Type,
			SessionID:  ev.SessionID,
			UserType:   ev.UserType,
			UserName:   ev.UserName,
			Data:       ev.Data,
			Summary:    Summarize(ev.Type, ev.Data),
			Timestamp:  ev.Timestamp,
			Source:     SourceLive,
		})
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Consumer) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func sessionFromEvent(ev models.Event) models.Session {
	s := models.Session{
		SessionID:    ev.SessionID,
		UserType:     ev.UserType,
		UserName:     ev.UserName,
		ConnectedAt:  ev.Timestamp,
		LastActiveAt: ev.Timestamp,
	}
	var data struct {
		UserID      string            `json:"userId"`
		DeviceType  models.DeviceType `json:"deviceType"`
		BrowserName string            `json:"browserName"`
		ConnectedAt time.Time         `json:"connectedAt"`
	}
	if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &data) == nil {
		s.UserID = data.UserID
		s.DeviceType = data.DeviceType
		s.BrowserName = data.BrowserName
		if !data.ConnectedAt.IsZero() {
			s.ConnectedAt = data.ConnectedAt
			s.LastActiveAt = data.ConnectedAt
		}
	}
	return s
}

func upsertSession(sessions []models.Session, s models.Session) []models.Session {
	for i := range sessions {
		if sessions[i].SessionID == s.SessionID {
			sessions[i] = s
			return sessions
		}
	}
	return append(sessions, s)
}

func removeSession(sessions []models.Session, sessionID string) []models.Session {
	out := sessions[:0]
	for _, s := range sessions {
		if s.SessionID != sessionID {
			out = append(out, s)
		}
	}
	return out
}

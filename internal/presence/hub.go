package presence

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/metrics"
	"quotepulse-backend/internal/models"
)

type scope string

const (
	scopeAll    scope = "all"
	scopeTeam   scope = "team"
	scopeSender scope = "sender"
)

type entry struct {
	socket  Socket
	session models.Session
}

// Hub is the registry and router for one document. It is not safe for
// concurrent use; Manager serializes every call for a given document.
type Hub struct {
	documentID string
	clock      quartz.Clock
	logger     zerolog.Logger
	entries    map[string]*entry
}

func NewHub(documentID string, clock quartz.Clock, logger zerolog.Logger) *Hub {
	return &Hub{
		documentID: documentID,
		clock:      clock,
		logger:     logger,
		entries:    make(map[string]*entry),
	}
}

// RestoreHub rebuilds a hub from sockets that outlived the previous hub
// instance for the same document. No events are emitted. Sockets whose
// attachment cannot be read are closed so their clients reconnect.
func RestoreHub(documentID string, sockets []Socket, clock quartz.Clock, logger zerolog.Logger) *Hub {
	h := NewHub(documentID, clock, logger)
	for _, s := range sockets {
		session, err := decodeAttachment(s.Attachment())
		if err != nil {
			logger.Warn().Err(err).Str("socket_id", s.ID()).Msg("Dropping socket without readable session")
			_ = s.Close()
			continue
		}
		h.entries[s.ID()] = &entry{socket: s, session: session}
	}
	return h
}

func (h *Hub) DocumentID() string {
	return h.documentID
}

func (h *Hub) Len() int {
	return len(h.entries)
}

// Connect registers a new socket, tells everyone about it, then sends the
// new socket a private snapshot of the registry.
func (h *Hub) Connect(socket Socket, params ConnectParams) models.Session {
	now := h.now()
	session := models.Session{
		SessionID:    params.SessionID,
		UserType:     params.UserType,
		UserID:       params.UserID,
		UserName:     params.UserName,
		DeviceType:   params.DeviceType,
		BrowserName:  params.BrowserName,
		ConnectedAt:  now,
		LastActiveAt: now,
	}

	// A reconnect can beat the close of the connection it replaces.
	for id, e := range h.entries {
		if id != socket.ID() && e.session.SessionID == session.SessionID {
			h.drop(id, e)
			h.logger.Debug().Str("session_id", session.SessionID).Msg("Replaced stale socket")
		}
	}

	e := &entry{socket: socket, session: session}
	h.register(socket.ID(), e)

	h.logger.Info().
		Str("session_id", session.SessionID).
		Str("user_type", string(session.UserType)).
		Int("viewers", len(h.entries)).
		Msg("Viewer connected")

	h.broadcast(h.presenceEvent(models.EventViewerJoined, session), scopeAll)

	// The join broadcast may have evicted the new socket.
	if _, ok := h.entries[socket.ID()]; ok {
		h.sendTo(socket.ID(), models.Event{
			Type:      models.EventViewersList,
			Viewers:   h.GetViewers(),
			Timestamp: h.now(),
		})
	}
	return session
}

// OnMessage validates and routes one inbound frame. Bad input is dropped
// without touching the connection.
func (h *Hub) OnMessage(socket Socket, raw []byte) {
	e, ok := h.entries[socket.ID()]
	if !ok {
		return
	}

	msgType, data, ok := parseMessage(raw)
	if !ok {
		metrics.MalformedMessages.Inc()
		return
	}

	e.session.LastActiveAt = h.now()
	e.socket.SetAttachment(encodeAttachment(e.session))

	switch msgType {
	case models.EventPing:
		h.sendTo(socket.ID(), models.Event{Type: models.EventPong, Timestamp: h.now()})
	case models.EventOptionToggle:
		h.broadcast(h.relayEvent(e.session, msgType, data), scopeAll)
	default:
		h.broadcast(h.relayEvent(e.session, msgType, data), scopeTeam)
	}
}

// OnClose handles both orderly closes and transport errors.
func (h *Hub) OnClose(socket Socket) {
	e, ok := h.entries[socket.ID()]
	if !ok {
		return
	}
	h.remove(socket.ID())

	h.logger.Info().
		Str("session_id", e.session.SessionID).
		Int("viewers", len(h.entries)).
		Msg("Viewer disconnected")

	h.broadcast(h.presenceEvent(models.EventViewerLeft, e.session), scopeAll)
}

// GetViewers returns every registered session ordered by connection time.
func (h *Hub) GetViewers() []models.Session {
	out := make([]models.Session, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.session)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

func (h *Hub) register(id string, e *entry) {
	e.socket.SetAttachment(encodeAttachment(e.session))
	h.entries[id] = e
	metrics.ConnectionsActive.WithLabelValues(string(e.session.UserType)).Inc()
}

func (h *Hub) remove(id string) {
	e, ok := h.entries[id]
	if !ok {
		return
	}
	delete(h.entries, id)
	metrics.ConnectionsActive.WithLabelValues(string(e.session.UserType)).Dec()
}

// drop removes a socket the hub itself gives up on. Its attachment is
// cleared first so a later restore does not bring the session back.
func (h *Hub) drop(id string, e *entry) {
	h.remove(id)
	e.socket.SetAttachment(nil)
	_ = e.socket.Close()
}

// broadcast sends ev to every socket matching sc. Sockets that fail are
// handled as closes once the iteration is over.
func (h *Hub) broadcast(ev models.Event, sc scope) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	var failed []string
	for id, e := range h.entries {
		if sc == scopeTeam && e.session.UserType != models.UserTypeTeam {
			continue
		}
		if err := e.socket.Send(payload); err != nil {
			failed = append(failed, id)
		}
	}
	metrics.EventsRouted.WithLabelValues(string(ev.Type), string(sc)).Inc()

	for _, id := range failed {
		h.evict(id)
	}
}

func (h *Hub) sendTo(id string, ev models.Event) {
	e, ok := h.entries[id]
	if !ok {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	metrics.EventsRouted.WithLabelValues(string(ev.Type), string(scopeSender)).Inc()
	if err := e.socket.Send(payload); err != nil {
		h.evict(id)
	}
}

func (h *Hub) evict(id string) {
	e, ok := h.entries[id]
	if !ok {
		return
	}
	metrics.SendFailures.Inc()
	h.drop(id, e)

	h.logger.Debug().Str("session_id", e.session.SessionID).Msg("Evicted unreachable socket")
	h.broadcast(h.presenceEvent(models.EventViewerLeft, e.session), scopeAll)
}

type presenceData struct {
	UserID      string            `json:"userId,omitempty"`
	DeviceType  models.DeviceType `json:"deviceType,omitempty"`
	BrowserName string            `json:"browserName,omitempty"`
	ConnectedAt time.Time         `json:"connectedAt"`
}

func (h *Hub) presenceEvent(t models.EventType, s models.Session) models.Event {
	data, _ := json.Marshal(presenceData{
		UserID:      s.UserID,
		DeviceType:  s.DeviceType,
		BrowserName: s.BrowserName,
		ConnectedAt: s.ConnectedAt,
	})
	return models.Event{
		Type:      t,
		SessionID: s.SessionID,
		UserType:  s.UserType,
		UserName:  s.UserName,
		Data:      data,
		Timestamp: h.now(),
	}
}

func (h *Hub) relayEvent(s models.Session, t models.EventType, data json.RawMessage) models.Event {
	return models.Event{
		Type:      t,
		SessionID: s.SessionID,
		UserType:  s.UserType,
		UserName:  s.UserName,
		Data:      data,
		Timestamp: h.now(),
	}
}

func (h *Hub) now() time.Time {
	return h.clock.Now().UTC()
}

// parseMessage extracts the type and payload of an inbound frame. The
// payload is the "data" member when present, otherwise every member except
// "type". Types the hub synthesizes itself are rejected.
func parseMessage(raw []byte) (models.EventType, json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return "", nil, false
	}

	var t string
	if err := json.Unmarshal(fields["type"], &t); err != nil || t == "" {
		return "", nil, false
	}
	msgType := models.EventType(t)
	switch msgType {
	case models.EventViewerJoined, models.EventViewerLeft, models.EventViewersList, models.EventPong:
		return "", nil, false
	}

	if data, ok := fields["data"]; ok {
		return msgType, data, true
	}
	delete(fields, "type")
	if len(fields) == 0 {
		return msgType, nil, true
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", nil, false
	}
	return msgType, data, true
}

package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/metrics"
	"quotepulse-backend/internal/models"
)

var ErrManagerClosed = errors.New("presence manager is closed")

const defaultIdleTimeout = time.Minute

// Manager owns one actor per active document. Every operation for a
// document runs on that document's goroutine, in submission order, so Hubs
// never need locks. Different documents proceed independently.
//
// The Manager also keeps the set of open sockets per document. That set
// outlives the actors: after IdleTimeout without operations an actor exits
// and its Hub is dropped, and the next operation for the document builds a
// new Hub from the sockets' attachments.
type Manager struct {
	clock       quartz.Clock
	logger      zerolog.Logger
	idleTimeout time.Duration

	mu      sync.Mutex
	actors  map[string]*actor
	sockets map[string]map[string]Socket
	closed  bool
	wg      sync.WaitGroup
}

type ManagerOptions struct {
	Clock       quartz.Clock
	Logger      zerolog.Logger
	IdleTimeout time.Duration
}

type actor struct {
	documentID string
	ops        chan func(*Hub)
	pending    atomic.Int64
	stop       chan struct{}
	done       chan struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &Manager{
		clock:       opts.Clock,
		logger:      opts.Logger,
		idleTimeout: opts.IdleTimeout,
		actors:      make(map[string]*actor),
		sockets:     make(map[string]map[string]Socket),
	}
}

// Connect registers socket with the document's hub.
func (m *Manager) Connect(documentID string, socket Socket, params ConnectParams) error {
	return m.submit(documentID, func(h *Hub) {
		m.track(documentID, socket)
		h.Connect(socket, params)
	})
}

// Message routes one inbound frame from socket.
func (m *Manager) Message(documentID string, socket Socket, raw []byte) error {
	return m.submit(documentID, func(h *Hub) {
		h.OnMessage(socket, raw)
	})
}

// Disconnect is called once the transport for socket is gone.
func (m *Manager) Disconnect(documentID string, socket Socket) error {
	return m.submit(documentID, func(h *Hub) {
		h.OnClose(socket)
		m.untrack(documentID, socket)
	})
}

// Viewers returns the document's registry. A document without open sockets
// answers without waking a hub.
func (m *Manager) Viewers(ctx context.Context, documentID string) ([]models.Session, error) {
	m.mu.Lock()
	_, resident := m.actors[documentID]
	open := len(m.sockets[documentID])
	m.mu.Unlock()
	if !resident && open == 0 {
		return []models.Session{}, nil
	}

	result := make(chan []models.Session, 1)
	if err := m.submit(documentID, func(h *Hub) {
		result <- h.GetViewers()
	}); err != nil {
		return nil, err
	}

	select {
	case viewers := <-result:
		return viewers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveHubs reports how many documents currently have a resident hub.
func (m *Manager) ActiveHubs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// OpenSockets reports how many sockets are open for a document, resident
// hub or not.
func (m *Manager) OpenSockets(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sockets[documentID])
}

// Close stops every actor and waits for them. Sockets are left to the
// transport.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, a := range m.actors {
		close(a.stop)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) submit(documentID string, op func(*Hub)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	a, ok := m.actors[documentID]
	if !ok {
		a = m.spawnLocked(documentID)
	}
	a.pending.Add(1)
	m.mu.Unlock()

	select {
	case a.ops <- op:
		return nil
	case <-a.done:
		return ErrManagerClosed
	}
}

func (m *Manager) spawnLocked(documentID string) *actor {
	a := &actor{
		documentID: documentID,
		ops:        make(chan func(*Hub), 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.actors[documentID] = a

	logger := logging.WithDocument(m.logger, documentID)
	var hub *Hub
	if sockets := m.socketsLocked(documentID); len(sockets) > 0 {
		hub = RestoreHub(documentID, sockets, m.clock, logger)
		metrics.Restores.Inc()
		logger.Debug().Int("sockets", len(sockets)).Msg("Hub restored")
	} else {
		hub = NewHub(documentID, m.clock, logger)
	}
	metrics.HubsActive.Inc()

	m.wg.Add(1)
	go m.run(a, hub)
	return a
}

func (m *Manager) run(a *actor, hub *Hub) {
	defer m.wg.Done()
	defer close(a.done)
	defer metrics.HubsActive.Dec()

	idle := m.clock.NewTimer(m.idleTimeout, "presence", "idle")
	defer idle.Stop()

	for {
		select {
		case op := <-a.ops:
			op(hub)
			a.pending.Add(-1)
			idle.Reset(m.idleTimeout, "presence", "idle")
		case <-idle.C:
			if m.hibernate(a) {
				return
			}
			idle.Reset(m.idleTimeout, "presence", "idle")
		case <-a.stop:
			return
		}
	}
}

// hibernate removes the actor unless work was submitted after the idle
// timer fired.
func (m *Manager) hibernate(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.pending.Load() > 0 {
		return false
	}
	delete(m.actors, a.documentID)
	metrics.Hibernations.Inc()
	m.logger.Debug().Str("document_id", a.documentID).Msg("Hub hibernated")
	return true
}

func (m *Manager) track(documentID string, socket Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sockets[documentID]
	if !ok {
		set = make(map[string]Socket)
		m.sockets[documentID] = set
	}
	set[socket.ID()] = socket
}

func (m *Manager) untrack(documentID string, socket Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sockets[documentID]
	delete(set, socket.ID())
	if len(set) == 0 {
		delete(m.sockets, documentID)
	}
}

func (m *Manager) socketsLocked(documentID string) []Socket {
	set := m.sockets[documentID]
	out := make([]Socket, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

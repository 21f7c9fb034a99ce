package presence

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/coder/quartz"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"quotepulse-backend/internal/logging"
	"quotepulse-backend/internal/models"
)

const propertySlots = 6

// hubScript drives a hub through a sequence of encoded operations. Each
// step is op*propertySlots+slot; even slots are customers, odd are team.
type hubScript struct {
	hub     *Hub
	sockets [propertySlots]*fakeSocket
	open    map[int]bool
}

func newHubScript() *hubScript {
	return &hubScript{
		hub:  NewHub("doc-prop", quartz.NewReal(), logging.Nop()),
		open: make(map[int]bool),
	}
}

func (s *hubScript) step(code int) {
	op, slot := code/propertySlots, code%propertySlots
	switch op {
	case 0:
		if s.open[slot] {
			return
		}
		sock := newFakeSocket(fmt.Sprintf("sock-%d-%d", slot, len(s.open)))
		params := customer(fmt.Sprintf("s-%d", slot))
		if slot%2 == 1 {
			params = team(fmt.Sprintf("s-%d", slot), "T")
		}
		s.sockets[slot] = sock
		s.open[slot] = true
		s.hub.Connect(sock, params)
	case 1:
		if !s.open[slot] {
			return
		}
		s.hub.OnClose(s.sockets[slot])
		delete(s.open, slot)
	case 2:
		if !s.open[slot] {
			return
		}
		s.hub.OnMessage(s.sockets[slot], []byte(`{"type":"scroll","data":{"scrollDepth":50}}`))
	case 3:
		var sockets []Socket
		for i := range s.open {
			sockets = append(sockets, s.sockets[i])
		}
		s.hub = RestoreHub("doc-prop", sockets, quartz.NewReal(), logging.Nop())
	}
}

func (s *hubScript) registryMatches() bool {
	var want []string
	for slot := range s.open {
		want = append(want, fmt.Sprintf("s-%d", slot))
	}
	sort.Strings(want)

	var got []string
	for _, v := range s.hub.GetViewers() {
		got = append(got, v.SessionID)
	}
	sort.Strings(got)
	return fmt.Sprint(want) == fmt.Sprint(got)
}

func (s *hubScript) customersNeverSawForeignScroll(t *testing.T) bool {
	for slot, sock := range s.sockets {
		if sock == nil || slot%2 == 1 {
			continue
		}
		sock.mu.Lock()
		sent := sock.sent
		sock.mu.Unlock()
		for _, raw := range sent {
			var ev models.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Logf("bad frame: %v", err)
				return false
			}
			if ev.Type == models.EventScroll {
				return false
			}
		}
	}
	return true
}

func TestProperty_HubRegistryAndAddressing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("registry equals the set of open sockets", prop.ForAll(
		func(codes []int) bool {
			script := newHubScript()
			for _, c := range codes {
				script.step(c)
				if !script.registryMatches() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4*propertySlots-1)),
	))

	properties.Property("customers never receive scroll events", prop.ForAll(
		func(codes []int) bool {
			script := newHubScript()
			for _, c := range codes {
				script.step(c)
			}
			return script.customersNeverSawForeignScroll(t)
		},
		gen.SliceOf(gen.IntRange(0, 4*propertySlots-1)),
	))

	properties.Property("restore preserves the serialized viewer list", prop.ForAll(
		func(codes []int) bool {
			script := newHubScript()
			for _, c := range codes {
				script.step(c)
			}
			before, _ := json.Marshal(script.hub.GetViewers())
			script.step(3 * propertySlots)
			after, _ := json.Marshal(script.hub.GetViewers())
			return string(before) == string(after)
		},
		gen.SliceOf(gen.IntRange(0, 3*propertySlots-1)),
	))

	properties.TestingRun(t)
}

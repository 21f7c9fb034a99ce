package models

import (
	"encoding/json"
	"time"
)

type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeTeam     UserType = "team"
)

// ParseUserType falls back to customer for anything that is not "team".
func ParseUserType(s string) UserType {
	if UserType(s) == UserTypeTeam {
		return UserTypeTeam
	}
	return UserTypeCustomer
}

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
	DeviceMobile  DeviceType = "mobile"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceDesktop, DeviceTablet, DeviceMobile:
		return true
	}
	return false
}

type EventType string

const (
	EventViewerJoined   EventType = "viewer_joined"
	EventViewerLeft     EventType = "viewer_left"
	EventViewersList    EventType = "viewers_list"
	EventSectionView    EventType = "section_view"
	EventScroll         EventType = "scroll"
	EventOptionToggle   EventType = "option_toggle"
	EventIdleStart      EventType = "idle_start"
	EventIdleEnd        EventType = "idle_end"
	EventTabBlur        EventType = "tab_blur"
	EventTabFocus       EventType = "tab_focus"
	EventSignatureStart EventType = "signature_start"
	EventCopyText       EventType = "copy_text"
	EventPageOpen       EventType = "page_open"
	EventPageClose      EventType = "page_close"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
)

// Session is the identity and metadata of one live hub connection. It is
// also the attachment format written onto each socket, so every field must
// survive a JSON round trip.
type Session struct {
	SessionID    string     `json:"sessionId"`
	UserType     UserType   `json:"userType"`
	UserID       string     `json:"userId,omitempty"`
	UserName     string     `json:"userName,omitempty"`
	DeviceType   DeviceType `json:"deviceType,omitempty"`
	BrowserName  string     `json:"browserName,omitempty"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
}

// Event is the broadcast unit emitted by the hub.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	UserType  UserType        `json:"userType,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Viewers   []Session       `json:"viewers,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClientMessage is what trackers and dashboards send to the hub.
type ClientMessage struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// FilterCustomers returns only customer-typed sessions, preserving order.
func FilterCustomers(sessions []Session) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.UserType == UserTypeCustomer {
			out = append(out, s)
		}
	}
	return out
}

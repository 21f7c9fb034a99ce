package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestRequest is the body of POST /activities/{documentId}. The same shape
// arrives from regular requests and from beacons.
type IngestRequest struct {
	SessionID    string          `json:"sessionId"`
	EventType    EventType       `json:"eventType"`
	EventData    json.RawMessage `json:"eventData,omitempty"`
	DeviceType   DeviceType      `json:"deviceType,omitempty"`
	BrowserName  string          `json:"browserName,omitempty"`
	OSName       string          `json:"osName,omitempty"`
	PageLoadTime *int64          `json:"pageLoadTime,omitempty"` // milliseconds
	ClientSeq    string          `json:"clientSeq,omitempty"`
}

type IngestResponse struct {
	ActivityID uuid.UUID `json:"activityId"`
	SessionID  string    `json:"sessionId"`
}

// ActivityRecord is one persisted activity row.
type ActivityRecord struct {
	ID           uuid.UUID       `json:"id"`
	QuoteID      string          `json:"quoteId"`
	SessionID    string          `json:"sessionId"`
	EventType    EventType       `json:"eventType"`
	EventData    json.RawMessage `json:"eventData"`
	DeviceType   *string         `json:"deviceType"`
	BrowserName  *string         `json:"browserName"`
	OSName       *string         `json:"osName"`
	PageLoadTime *int64          `json:"pageLoadTime"`
	ClientSeq    *string         `json:"clientSeq,omitempty"`
	IPAddress    *string         `json:"ipAddress"`
	Country      *string         `json:"country"`
	City         *string         `json:"city"`
	UserAgent    *string         `json:"userAgent"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ActiveSession summarises a session that produced activity recently.
type ActiveSession struct {
	SessionID     string    `json:"sessionId"`
	DeviceType    *string   `json:"deviceType"`
	BrowserName   *string   `json:"browserName"`
	LastEventType EventType `json:"lastEventType"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	EventCount    int       `json:"eventCount"`
	Country       *string   `json:"country,omitempty"`
}

type ActivityListResponse struct {
	Activities     []ActivityRecord `json:"activities"`
	ActiveSessions []ActiveSession  `json:"activeSessions"`
}

type ViewersResponse struct {
	DocumentID string    `json:"documentId"`
	Viewers    []Session `json:"viewers"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

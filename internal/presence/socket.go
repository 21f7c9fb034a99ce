package presence

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"quotepulse-backend/internal/models"
	"quotepulse-backend/internal/useragent"
)

// Socket is one live connection as seen by a Hub. Implementations must not
// block in Send; a socket that cannot accept more data returns an error and
// is evicted by the hub.
//
// The attachment is an opaque blob that stays with the socket for its whole
// lifetime, independent of any Hub instance. Hubs store the serialized
// Session there so a fresh Hub can rebuild its registry from open sockets.
type Socket interface {
	ID() string
	Send(data []byte) error
	Close() error
	Attachment() []byte
	SetAttachment(data []byte)
}

var errNoAttachment = errors.New("socket has no session attachment")

func encodeAttachment(s models.Session) []byte {
	data, _ := json.Marshal(s)
	return data
}

func decodeAttachment(data []byte) (models.Session, error) {
	var s models.Session
	if len(data) == 0 {
		return s, errNoAttachment
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	if s.SessionID == "" {
		return s, errNoAttachment
	}
	return s, nil
}

// ConnectParams are the session hints read off the connection request.
type ConnectParams struct {
	SessionID   string
	UserType    models.UserType
	UserID      string
	UserName    string
	DeviceType  models.DeviceType
	BrowserName string
}

// ParseConnectParams reads the query parameters of a hub connection. A
// missing sessionId is replaced with a fresh one, which costs the caller
// reconnect continuity. Device and browser are inferred from the upgrade
// request's User-Agent only when the client did not supply them.
func ParseConnectParams(q url.Values, userAgent string) ConnectParams {
	p := ConnectParams{
		SessionID:   strings.TrimSpace(q.Get("sessionId")),
		UserType:    models.ParseUserType(q.Get("userType")),
		UserID:      q.Get("userId"),
		UserName:    q.Get("userName"),
		DeviceType:  models.DeviceType(q.Get("deviceType")),
		BrowserName: q.Get("browserName"),
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}

	if !p.DeviceType.Valid() || p.BrowserName == "" {
		info := useragent.Parse(userAgent)
		if !p.DeviceType.Valid() {
			p.DeviceType = info.DeviceType
		}
		if p.BrowserName == "" {
			p.BrowserName = info.BrowserName
		}
	}
	return p
}

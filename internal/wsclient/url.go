package wsclient

import (
	"fmt"
	"net/url"
	"strings"
)

// HubURL turns an API base URL such as https://host/api/v1 into the hub
// endpoint for documentID, carrying params as the query string.
func HubURL(baseURL, documentID string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/quote/" + url.PathEscape(documentID)
	u.RawPath = ""
	u.RawQuery = params.Encode()
	return u.String(), nil
}

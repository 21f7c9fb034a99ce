package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"quotepulse-backend/internal/models"
)

const feedCap = 100

type Source string

const (
	SourceLive     Source = "live"
	SourceBackfill Source = "backfill"
)

// FeedEntry is one line of the operator's activity feed.
type FeedEntry struct {
	DocumentID string
	Type       models.EventType
	SessionID  string
	UserType   models.UserType
	UserName   string
	Data       json.RawMessage
	Summary    string
	Timestamp  time.Time
	Source     Source
}

// feed is a bounded most-recent-first display log.
type feed struct {
	entries []FeedEntry
}

func (f *feed) push(e FeedEntry) {
	f.entries = append(f.entries, FeedEntry{})
	copy(f.entries[1:], f.entries)
	f.entries[0] = e
	if len(f.entries) > feedCap {
		f.entries = f.entries[:feedCap]
	}
}

func (f *feed) reset(entries []FeedEntry) {
	if len(entries) > feedCap {
		entries = entries[:feedCap]
	}
	f.entries = entries
}

func (f *feed) snapshot() []FeedEntry {
	out := make([]FeedEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Typed views of event payloads. The hub relays data untouched; these are
// only decoded for display.
type (
	SectionViewData struct {
		SectionID    string `json:"sectionId"`
		SectionTitle string `json:"sectionTitle"`
	}
	ScrollData struct {
		Depth int `json:"scrollDepth"`
	}
	OptionToggleData struct {
		OptionID   string `json:"optionId"`
		OptionName string `json:"optionName"`
		Selected   bool   `json:"selected"`
	}
	IdleStartData struct {
		TimeoutSeconds int `json:"timeoutSeconds"`
	}
	IdleEndData struct {
		IdleSeconds int    `json:"idleSeconds"`
		Signal      string `json:"signal"`
	}
	CopyTextData struct {
		Length  int    `json:"length"`
		Preview string `json:"preview"`
	}
	PageOpenData struct {
		PageViewID string `json:"pageViewId"`
		Resumed    bool   `json:"resumed"`
	}
	PageCloseData struct {
		ElapsedSeconds int `json:"elapsedSeconds"`
		MaxScrollDepth int `json:"maxScrollDepth"`
		SectionsViewed int `json:"sectionsViewed"`
	}
)

// DecodePayload returns the typed payload for known event types, or nil
// for types without one.
func DecodePayload(t models.EventType, data json.RawMessage) (any, error) {
	var v any
	switch t {
	case models.EventSectionView:
		v = &SectionViewData{}
	case models.EventScroll:
		v = &ScrollData{}
	case models.EventOptionToggle:
		v = &OptionToggleData{}
	case models.EventIdleStart:
		v = &IdleStartData{}
	case models.EventIdleEnd:
		v = &IdleEndData{}
	case models.EventCopyText:
		v = &CopyTextData{}
	case models.EventPageOpen:
		v = &PageOpenData{}
	case models.EventPageClose:
		v = &PageCloseData{}
	default:
		return nil, nil
	}
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Summarize renders a one-line description of an event.
func Summarize(t models.EventType, data json.RawMessage) string {
	payload, err := DecodePayload(t, data)
	if err != nil {
		return string(t)
	}

	switch p := payload.(type) {
	case *SectionViewData:
		if p.SectionTitle != "" {
			return fmt.Sprintf("Viewed section %q", p.SectionTitle)
		}
		return fmt.Sprintf("Viewed section %s", p.SectionID)
	case *ScrollData:
		return fmt.Sprintf("Scrolled to %d%%", p.Depth)
	case *OptionToggleData:
		name := p.OptionName
		if name == "" {
			name = p.OptionID
		}
		if p.Selected {
			return fmt.Sprintf("Selected %q", name)
		}
		return fmt.Sprintf("Deselected %q", name)
	case *IdleStartData:
		return "Went idle"
	case *IdleEndData:
		return fmt.Sprintf("Back after %s idle", time.Duration(p.IdleSeconds)*time.Second)
	case *CopyTextData:
		return fmt.Sprintf("Copied %d characters", p.Length)
	case *PageOpenData:
		if p.Resumed {
			return "Reopened the quote"
		}
		return "Opened the quote"
	case *PageCloseData:
		return fmt.Sprintf("Left after %s, read %d%%", time.Duration(p.ElapsedSeconds)*time.Second, p.MaxScrollDepth)
	}

	switch t {
	case models.EventTabBlur:
		return "Switched to another tab"
	case models.EventTabFocus:
		return "Came back to the quote"
	case models.EventSignatureStart:
		return "Started signing"
	}
	return string(t)
}

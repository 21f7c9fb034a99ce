package tracker

import (
	"math"
	"unicode/utf8"

	"quotepulse-backend/internal/models"
)

const (
	scrollMilestone  = 25
	copyPreviewRunes = 100
)

// Position is a scroll observation in document pixels.
type Position struct {
	Top            float64
	DocumentHeight float64
	ViewportHeight float64
}

// Depth is the scroll depth as a percentage of the scrollable range. A
// document that fits the viewport counts as fully read.
func (p Position) Depth() int {
	scrollable := p.DocumentHeight - p.ViewportHeight
	if scrollable <= 0 {
		return 100
	}
	depth := int(math.Round(p.Top / scrollable * 100))
	switch {
	case depth < 0:
		return 0
	case depth > 100:
		return 100
	}
	return depth
}

// Signal is a user activity that keeps the session out of idle.
type Signal string

const (
	SignalPointerMove Signal = "pointer_move"
	SignalKeyPress    Signal = "key_press"
	SignalScroll      Signal = "scroll"
	SignalClick       Signal = "click"
	SignalTouch       Signal = "touch"
)

// Scroll records a scroll observation. Observations are throttled: the
// first one arms a timer and the latest position is evaluated when it fires.
func (t *Tracker) Scroll(pos Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() {
		return
	}
	t.activityLocked(SignalScroll)
	if t.cfg.DisableScroll {
		return
	}

	t.pending = &pos
	if t.scrollArmed {
		return
	}
	t.scrollArmed = true
	if t.scrollTimer == nil {
		t.scrollTimer = t.clock.AfterFunc(t.cfg.ScrollThrottle, t.flushScroll, "tracker", "scroll")
		return
	}
	t.scrollTimer.Reset(t.cfg.ScrollThrottle, "tracker", "scroll")
}

// flushScroll emits the highest 25-point milestone reached, only when it is
// past every milestone already emitted.
func (t *Tracker) flushScroll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrollArmed = false
	if !t.activeLocked() || t.pending == nil {
		return
	}
	depth := t.pending.Depth()
	t.pending = nil

	if depth > t.maxDepth {
		t.maxDepth = depth
	}
	milestone := depth / scrollMilestone * scrollMilestone
	if milestone <= t.milestone {
		return
	}
	t.milestone = milestone
	t.emitLocked(models.EventScroll, map[string]any{"scrollDepth": milestone})
}

// VisibilityChange reports the page being hidden or shown again.
func (t *Tracker) VisibilityChange(hidden bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() || t.cfg.DisableVisibility || hidden == t.hidden {
		return
	}
	t.hidden = hidden
	if hidden {
		t.emitLocked(models.EventTabBlur, map[string]any{})
		return
	}
	t.emitLocked(models.EventTabFocus, map[string]any{})
}

// Activity records a user signal, ending an idle period if one is running.
func (t *Tracker) Activity(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() {
		return
	}
	t.activityLocked(sig)
}

func (t *Tracker) activityLocked(sig Signal) {
	if t.cfg.DisableIdle || t.idleTimer == nil {
		return
	}
	now := t.clock.Now()
	if t.idle {
		t.idle = false
		t.emitLocked(models.EventIdleEnd, map[string]any{
			"idleSeconds": int(now.Sub(t.idleSince).Seconds()),
			"signal":      string(sig),
		})
	}
	t.lastActivity = now
	t.idleTimer.Reset(t.cfg.IdleTimeout, "tracker", "idle")
}

func (t *Tracker) onIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() || t.idle {
		return
	}
	// The timer may have fired just before a signal rearmed it.
	now := t.clock.Now()
	if now.Sub(t.lastActivity) < t.cfg.IdleTimeout {
		return
	}
	t.idle = true
	t.idleSince = now
	t.emitLocked(models.EventIdleStart, map[string]any{
		"timeoutSeconds": int(t.cfg.IdleTimeout.Seconds()),
	})
}

// Copy reports text copied out of the document.
func (t *Tracker) Copy(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.activeLocked() || t.cfg.DisableCopy {
		return
	}
	preview := text
	if utf8.RuneCountInString(text) > copyPreviewRunes {
		preview = string([]rune(text)[:copyPreviewRunes])
	}
	t.emitLocked(models.EventCopyText, map[string]any{
		"length":  utf8.RuneCountInString(text),
		"preview": preview,
	})
}

// Unload is the page-unload observer. It ends the session the same way an
// explicit Destroy does.
func (t *Tracker) Unload() {
	if t.cfg.DisableUnload {
		return
	}
	t.Destroy()
}

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"quotepulse-backend/internal/dashboard"
	"quotepulse-backend/internal/models"
)

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetTitle(title)
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.SeparateColumns = false
	return tw
}

func renderViewers(viewers []models.Session, now time.Time) string {
	tw := newTable(fmt.Sprintf("Viewers (%d)", len(viewers)))
	tw.AppendHeader(table.Row{"Session", "Device", "Browser", "Connected", "Last active"})
	for _, v := range viewers {
		tw.AppendRow(table.Row{
			shortID(v.SessionID),
			orDash(string(v.DeviceType)),
			orDash(v.BrowserName),
			ago(now, v.ConnectedAt),
			ago(now, v.LastActiveAt),
		})
	}
	return tw.Render()
}

func renderFeed(entries []dashboard.FeedEntry, now time.Time) string {
	tw := newTable("Activity")
	tw.AppendHeader(table.Row{"When", "Session", "Event", "Summary", "Source"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			ago(now, e.Timestamp),
			shortID(e.SessionID),
			string(e.Type),
			e.Summary,
			string(e.Source),
		})
	}
	return tw.Render()
}

func renderCounts(counts map[string]int) string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := newTable("Viewer counts")
	tw.AppendHeader(table.Row{"Quote", "Viewers"})
	for _, id := range ids {
		tw.AppendRow(table.Row{id, counts[id]})
	}
	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return t.Local().Format("Jan 2 15:04")
}

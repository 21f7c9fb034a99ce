// Package useragent derives the coarse device, browser and OS labels attached
// to viewer sessions and activity records.
package useragent

import (
	"strings"

	"github.com/mssola/useragent"

	"quotepulse-backend/internal/models"
)

// Info is the result of a single inference. It is computed once per session
// and never recomputed.
type Info struct {
	DeviceType  models.DeviceType
	BrowserName string
	OSName      string
}

// Parse classifies a raw User-Agent header. An empty header yields a desktop
// device with empty browser and OS names.
func Parse(raw string) Info {
	info := Info{DeviceType: models.DeviceDesktop}
	if strings.TrimSpace(raw) == "" {
		return info
	}

	ua := useragent.New(raw)
	name, _ := ua.Browser()
	info.BrowserName = shortBrowserName(name)
	info.OSName = ua.OS()

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "ipad"),
		strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		info.DeviceType = models.DeviceTablet
	case ua.Mobile():
		info.DeviceType = models.DeviceMobile
	}

	return info
}

func shortBrowserName(name string) string {
	switch name {
	case "Google Chrome", "Chromium":
		return "Chrome"
	case "Microsoft Edge":
		return "Edge"
	case "Internet Explorer":
		return "IE"
	}
	return name
}

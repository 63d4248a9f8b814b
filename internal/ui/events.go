package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/curiosity/internal/otel"
)

// eventsPanelChrome is the number of terminal lines consumed by EventsPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
const eventsPanelChrome = 4

// eventsPanel renders run stats and the most recent events.
// Returns empty string if ring is nil.
func eventsPanel(ring *otel.RingBuffer, now time.Time, width, height int) string {
	if ring == nil {
		return ""
	}

	stats := ring.Stats()

	var lines []string
	lines = append(lines, EventsHeaderStyle.Render("Run Stats"))
	lines = append(lines, fmt.Sprintf("  Rejected:   %d", stats[otel.KindNormalizeReject]))
	lines = append(lines, fmt.Sprintf("  Embeds:     %d batch, %d errors",
		stats[otel.KindEmbedBatch], stats[otel.KindEmbedError]))
	lines = append(lines, fmt.Sprintf("  News:       %d searches, %d errors",
		stats[otel.KindNewsSearch], stats[otel.KindNewsError]))
	lines = append(lines, fmt.Sprintf("  Store:      %d errors", stats[otel.KindStoreError]))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	lines = append(lines, EventsHeaderStyle.Render("Recent Events"))
	for _, e := range ring.Last(20) {
		line := fmt.Sprintf("  %6s  %-18s", formatAge(now.Sub(e.Time)), string(e.Kind))
		if e.Platform != "" {
			line += "  " + e.Platform
		}
		if e.Msg != "" {
			line += "  " + truncateRunes(e.Msg, 40)
		}
		if e.Err != "" {
			line += "  ERR:" + truncateRunes(e.Err, 30)
		}
		lines = append(lines, line)
	}

	maxHeight := height - eventsPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 76
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return EventsPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// formatAge formats a duration as a compact human string.
// Negative durations from clock skew clamp to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// truncateRunes shortens s to max runes, appending "..." if truncated.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

package types

import (
	"fmt"
	"time"
)

// Badge colors
const (
	BadgeColorNone      = ""
	BadgeColorPending   = "#F59E0B"
	BadgeColorRecording = "#DC2626"
	BadgeColorPaused    = "#6B7280"
	BadgeColorStopped   = "#16A34A"
)

// Badge is the always-visible status indicator
type Badge struct {
	Color string `json:"color"`
	Text  string `json:"text"`
}

// BadgeFor derives the badge from the session status. While recording the text is the
// elapsed time since startedAt as m:ss.
func BadgeFor(status SessionStatus, startedAt, now time.Time) Badge {
	switch status {
	case StatusInitializing, StatusStopping:
		return Badge{Color: BadgeColorPending, Text: "..."}
	case StatusRecording:
		return Badge{Color: BadgeColorRecording, Text: formatElapsed(now.Sub(startedAt))}
	case StatusPaused:
		return Badge{Color: BadgeColorPaused, Text: "II"}
	case StatusStopped:
		return Badge{Color: BadgeColorStopped, Text: "OK"}
	default:
		return Badge{Color: BadgeColorNone, Text: ""}
	}
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Package bot wires the Telegram surface: update handling, access
// gating, the download pipeline and media uploads.
package bot

import (
	"fmt"
	"strings"
	"time"
)

const progressBarWidth = 18

// HumanBytes renders a byte count in binary units.
func HumanBytes(n int64) string {
	if n < 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ProgressBar renders a fixed-width bar for a percentage in [0,100].
func ProgressBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * progressBarWidth)
	var sb strings.Builder
	sb.WriteString(strings.Repeat("█", filled))
	sb.WriteString(strings.Repeat("░", progressBarWidth-filled))
	return sb.String()
}

// FormatETA renders a duration as mm:ss, or hh:mm:ss past the hour mark.
// Zero and negative durations render as a placeholder.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	total := int(d.Round(time.Second).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatLostMessage creates the body for a lost hub link.
func FormatLostMessage(reason string, upFor time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Reason: %s\n", orUnknown(reason)))
	if upFor > 0 {
		sb.WriteString(fmt.Sprintf("Connected for: %s\n", upFor.Round(time.Second)))
	}
	sb.WriteString("Reconnecting automatically")

	return sb.String()
}

// FormatRestoredMessage creates the body for a restored hub link.
func FormatRestoredMessage(reason string, downFor time.Duration) string {
	var sb strings.Builder

	sb.WriteString(orUnknown(reason))
	if downFor > 0 {
		sb.WriteString(fmt.Sprintf("\nDowntime: %s", downFor.Round(time.Second)))
	}

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

package notify

import (
	"fmt"
	"strings"
)

// FormatDesyncMessage creates a desync alert body.
func FormatDesyncMessage(channel string, pts int64, forcedFlushes int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Channel: %s\n", channel))
	sb.WriteString(fmt.Sprintf("Position: %d\n", pts))
	sb.WriteString(fmt.Sprintf("Forced flushes: %d\n", forcedFlushes))
	sb.WriteString("Escalating to a full difference fetch.")

	return sb.String()
}

// FormatResyncFailedMessage creates a resync failure alert body.
func FormatResyncFailedMessage(channel string, cause error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Channel: %s\n", channel))
	if cause != nil {
		sb.WriteString(fmt.Sprintf("Error: %v\n", cause))
	}
	sb.WriteString("Will retry on the next idle check.")

	return sb.String()
}

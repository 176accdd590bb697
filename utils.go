package modbus

import (
	"fmt"
	"strings"
)

// formatHex formats a frame as space-separated hex bytes for log output.
func formatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var builder strings.Builder
	for i, b := range data {
		if i > 0 {
			builder.WriteByte(' ')
		}
		fmt.Fprintf(&builder, "%02X", b)
	}
	return builder.String()
}

package session

import (
	"fmt"
	"strings"
)

// ErrorMarker prefixes every error status.
const ErrorMarker = "error: "

const (
	StatusIdle         = "not connected"
	StatusClosed       = "connection closed"
	StatusStopped      = "server stopped"
	StatusNoConnection = ErrorMarker + "no active connection"
)

// IsError reports whether status describes a failure.
func IsError(status string) bool {
	return strings.HasPrefix(status, ErrorMarker)
}

func statusError(format string, args ...any) string {
	return ErrorMarker + fmt.Sprintf(format, args...)
}

func statusListening(ip string, port int) string {
	return fmt.Sprintf("listening on %s:%d", ip, port)
}

func statusPeerConnected(remote string) string {
	return "peer connected: " + remote
}

func statusConnecting(target string) string {
	return "connecting to " + target
}

func statusConnected(target string) string {
	return "connected to " + target
}

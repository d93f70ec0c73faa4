// Package protocol defines the text-frame protocol between live clients and ingress.
// It is shared by the ingress service and auditctl.
package protocol

import "strings"

// Client to ingress control lines.
const (
	SubscribePrefix = "subscribe:"
	Pong            = "PONG"
)

// TypeHeartbeat is the type of the liveness probe sent to clients.
const TypeHeartbeat = "heartbeat"

// CloseUnauthorized is the close code sent when a handshake fails authentication.
const (
	CloseUnauthorized       = 4001
	CloseReasonUnauthorized = "unauthorized"
)

// Query parameters carrying the handshake signature.
const (
	ParamSignature = "signature"
	ParamTimestamp = "timestamp"
)

// HeartbeatFrame is the probe payload.
var HeartbeatFrame = []byte(`{"type":"heartbeat"}`)

// CommandKind classifies an inbound text frame.
type CommandKind int

const (
	// CommandOther is any application text; ingress ignores it.
	CommandOther CommandKind = iota
	CommandSubscribe
	CommandPong
)

// Command is a parsed inbound frame.
type Command struct {
	Kind  CommandKind
	JobID string
}

// Parse classifies a client frame. A subscribe line without a job id is
// treated as application text.
func Parse(frame []byte) Command {
	line := strings.TrimSpace(string(frame))
	switch {
	case line == Pong:
		return Command{Kind: CommandPong}
	case strings.HasPrefix(line, SubscribePrefix):
		jobID := strings.TrimSpace(strings.TrimPrefix(line, SubscribePrefix))
		if jobID == "" {
			return Command{Kind: CommandOther}
		}
		return Command{Kind: CommandSubscribe, JobID: jobID}
	default:
		return Command{Kind: CommandOther}
	}
}

// SubscribeLine builds the control line subscribing to jobID.
func SubscribeLine(jobID string) string {
	return SubscribePrefix + jobID
}

// IsHeartbeat reports whether a server frame is a heartbeat probe.
func IsHeartbeat(frame []byte) bool {
	return strings.Contains(string(frame), `"type":"heartbeat"`)
}

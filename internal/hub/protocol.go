package hub

// Server message types.
const (
	TypeSessions       = "sessions"
	TypeSessionStarted = "session_started"
	TypeOutput         = "output"
	TypeSessionExited  = "session_exited"
	TypeUsage          = "usage"
	TypeError          = "error"
)

type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Program string `json:"program"`
	PID     uint32 `json:"pid,omitempty"`
	Status  string `json:"status"`
}

type SessionsMessage struct {
	Type string        `json:"type"`
	List []SessionInfo `json:"list"`
}

type SessionStartedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Program   string `json:"program"`
	PID       uint32 `json:"pid"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
	Ts        int64  `json:"ts"`
}

type OutputMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Bytes     int    `json:"bytes"`
	Ts        int64  `json:"ts"`
}

type SessionExitedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Signal    string `json:"signal,omitempty"`
	Error     string `json:"error,omitempty"`
	Ts        int64  `json:"ts"`
}

type UsageMessage struct {
	Type            string `json:"type"`
	TraceBytes      uint64 `json:"trace_bytes"`
	OutputBytes     uint64 `json:"output_bytes"`
	ActiveProcesses uint32 `json:"active_processes"`
	LiveSessions    int    `json:"live_sessions"`
	Ts              int64  `json:"ts"`
}

// ClientMessage is sent by websocket clients. Type is "input" or "subscribe".
type ClientMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Text      string   `json:"text,omitempty"`
	Keys      []string `json:"keys,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}

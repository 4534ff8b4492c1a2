package transport

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// TrafficDirection classifies one transcript record.
type TrafficDirection string

const (
	DirectionRequest TrafficDirection = "request"
	DirectionFrame   TrafficDirection = "frame"
	// DirectionStderr carries stderr text attributed to the preceding frame.
	DirectionStderr TrafficDirection = "stderr"
	// DirectionDropped is a frame that arrived with no request waiting.
	DirectionDropped TrafficDirection = "dropped"
	// DirectionFailed is a request that left the queue without a frame.
	// Error holds the reason.
	DirectionFailed TrafficDirection = "failed"
)

// TrafficLogEntry is one transcript record. Seq orders records written by
// the same session; Session names the REPL they belong to.
type TrafficLogEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Session   string           `json:"session,omitempty"`
	Seq       uint64           `json:"seq"`
	Direction TrafficDirection `json:"direction"`
	Payload   string           `json:"payload"`
	Error     string           `json:"error,omitempty"`
}

// TrafficLogger records proxy traffic. The proxy fills Direction, Payload
// and Error; the logger owns the remaining fields.
type TrafficLogger interface {
	LogTraffic(entry TrafficLogEntry)
}

// JSONLTrafficLogger writes one session's traffic as JSON Lines.
type JSONLTrafficLogger struct {
	session string

	mu  sync.Mutex
	seq uint64
	enc *json.Encoder
	now func() time.Time
}

// NewJSONLTrafficLogger stamps every record with session.
func NewJSONLTrafficLogger(w io.Writer, session string) *JSONLTrafficLogger {
	return &JSONLTrafficLogger{
		session: session,
		enc:     json.NewEncoder(w),
		now:     time.Now,
	}
}

func (l *JSONLTrafficLogger) LogTraffic(entry TrafficLogEntry) {
	if l == nil || l.enc == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry.Timestamp = l.now().UTC()
	entry.Session = l.session
	entry.Seq = l.seq
	_ = l.enc.Encode(entry)
}

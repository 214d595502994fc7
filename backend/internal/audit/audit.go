package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/logger"
)

// Entry is one structured verdict record. Raw input is never written,
// only its SHA-256.
type Entry struct {
	Timestamp   time.Time     `json:"timestamp"`
	RequestID   string        `json:"request_id"`
	InputSHA256 string        `json:"input_sha256"`
	Blocked     bool          `json:"blocked"`
	Layer       string        `json:"layer"`
	Reason      string        `json:"reason,omitempty"`
	Risk        string        `json:"risk,omitempty"`
	Confidence  float64       `json:"confidence"`
	Degraded    []string      `json:"degraded,omitempty"`
	Latency     time.Duration `json:"latency_ns"`
}

// Logger writes JSON-lines audit entries
type Logger struct {
	mu       sync.Mutex
	out      io.WriteCloser
	encoder  *json.Encoder
	fallback *logrus.Entry
}

// NewLogger opens a rotated audit file at path
func NewLogger(path string) (*Logger, error) {
	rotator, err := logger.Rotating(path)
	if err != nil {
		return nil, err
	}
	return NewWriterLogger(rotator), nil
}

// NewWriterLogger writes entries to w
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{
		out:      w,
		encoder:  json.NewEncoder(w),
		fallback: logger.WithFields(logrus.Fields{"component": "audit"}),
	}
}

// Log writes an audit entry
func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.encoder.Encode(entry); err != nil {
		l.fallback.WithError(err).WithField("request_id", entry.RequestID).Warn("failed to write audit entry")
	}
}

// Close closes the underlying writer
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// HashInput returns the hex SHA-256 of the checked text
func HashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

package telemetry

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// LogLine is one captured log line with terminal styling removed.
type LogLine struct {
	Time  time.Time
	Level slog.Level
	Text  string
}

// LogCapture keeps the latest log lines for the editor's log pane. It is the
// io.Writer behind the tint handler; a write holding several lines yields one
// entry per line.
type LogCapture struct {
	mu       sync.Mutex
	ring     []LogLine
	head     int
	size     int
	listener func(LogLine)
	now      func() time.Time
}

func NewLogCapture(capacity int) *LogCapture {
	return &LogCapture{
		ring: make([]LogLine, max(1, capacity)),
		now:  time.Now,
	}
}

func (lc *LogCapture) Write(p []byte) (int, error) {
	text := ansi.Strip(string(p))

	var captured []LogLine
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r ")
		if raw == "" {
			continue
		}
		captured = append(captured, LogLine{Time: lc.now(), Level: levelOf(raw), Text: raw})
	}

	lc.mu.Lock()
	for _, line := range captured {
		lc.ring[lc.head] = line
		lc.head = (lc.head + 1) % len(lc.ring)
		lc.size = min(lc.size+1, len(lc.ring))
	}
	listener := lc.listener
	lc.mu.Unlock()

	if listener != nil {
		for _, line := range captured {
			listener(line)
		}
	}
	return len(p), nil
}

// OnLine registers fn to receive every line written from now on. A nil fn removes
// the listener. fn runs on the logging goroutine and must not block.
func (lc *LogCapture) OnLine(fn func(LogLine)) {
	lc.mu.Lock()
	lc.listener = fn
	lc.mu.Unlock()
}

// Recent returns up to limit of the newest lines, oldest first. A limit below one
// returns everything kept.
func (lc *LogCapture) Recent(limit int) []LogLine {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	n := lc.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]LogLine, n)
	start := lc.head - n + len(lc.ring)
	for i := range out {
		out[i] = lc.ring[(start+i)%len(lc.ring)]
	}
	return out
}

// levelOf reads the level tint prints after the timestamp, e.g. "3:04PM WRN ...".
func levelOf(line string) slog.Level {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return slog.LevelInfo
	}
	switch tag := fields[1]; {
	case strings.HasPrefix(tag, "DBG"):
		return slog.LevelDebug
	case strings.HasPrefix(tag, "WRN"):
		return slog.LevelWarn
	case strings.HasPrefix(tag, "ERR"):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

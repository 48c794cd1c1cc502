package progress

import (
	"fmt"
	"sync"
	"time"
)

// Event is a single progress sample emitted during a download.
type Event struct {
	// BytesDownloaded is the cumulative byte count for the whole download.
	BytesDownloaded int64

	// TotalBytes is the expected total. Zero means unknown; consumers
	// should render an indeterminate bar.
	TotalBytes int64

	// BytesPerSecond is the transfer speed smoothed over the interval
	// since the previous event.
	BytesPerSecond float64

	// Extracting reports whether an archive extraction phase is running.
	Extracting bool
}

// Func receives progress events.
type Func func(Event)

// Tracker converts cumulative byte counts into Events.
//
// Cumulative progress is clamped to be monotonically non-decreasing within
// one download session: a server that ignores a Range request forces a
// local restart from zero, but consumers should never see the bar move
// backwards.
type Tracker struct {
	mu         sync.Mutex
	fn         Func
	total      int64
	highWater  int64
	lastTime   time.Time
	lastBytes  int64
	extracting bool
}

// NewTracker creates a tracker reporting to fn. fn may be nil, in which
// case all updates are dropped.
func NewTracker(total int64, fn Func) *Tracker {
	return &Tracker{
		fn:       fn,
		total:    total,
		lastTime: time.Now(),
	}
}

// SetTotal replaces the expected total. Used once per-file sizes have been
// discovered from the server.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// Total returns the current expected total.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// SetExtracting flags subsequent events as belonging to the extraction
// phase and emits one event immediately.
func (t *Tracker) SetExtracting(on bool) {
	t.mu.Lock()
	t.extracting = on
	hw := t.highWater
	t.mu.Unlock()
	t.Update(hw)
}

// Update reports the cumulative byte count and emits an event.
func (t *Tracker) Update(bytes int64) {
	t.mu.Lock()

	if bytes < t.highWater {
		bytes = t.highWater
	}
	t.highWater = bytes

	now := time.Now()
	elapsed := now.Sub(t.lastTime).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	speed := float64(bytes-t.lastBytes) / elapsed
	if speed < 0 {
		speed = 0
	}
	t.lastTime = now
	t.lastBytes = bytes

	ev := Event{
		BytesDownloaded: bytes,
		TotalBytes:      t.total,
		BytesPerSecond:  speed,
		Extracting:      t.extracting,
	}
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// ParseBytes parses a human-readable byte string (e.g., "256MB").
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = trimSuffix(s, " ")

	switch {
	case hasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func trimSuffix(s, suffix string) string {
	for hasSuffix(s, suffix) {
		s = s[:len(s)-len(suffix)]
	}
	return s
}

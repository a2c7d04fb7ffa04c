package capture

import (
	"errors"
	"time"
)

// ErrZeroDuration is returned by Stats.Derive when the capture window
// rounds down to zero whole seconds, making the per-second rates undefined.
var ErrZeroDuration = errors.New("capture window shorter than one second, rates undefined")

// Stats accumulates throughput counters as the consume loop runs. All
// counters are monotonically non-decreasing. The loop owns the value
// exclusively while running; the controller reads it only after the loop
// has stopped, so no locking is needed.
type Stats struct {
	// MessageCount is the number of successfully decoded messages. It
	// always equals the length of the captured set.
	MessageCount int64
	// TotalBytes is the payload volume of every received message,
	// including payloads that failed to decode. Received-but-unparseable
	// traffic still crossed the wire, so it still counts here.
	TotalBytes int64
	// TotalTagCount is the number of keys summed across all key-value
	// groups of every decoded message.
	TotalTagCount int64
}

// RecordPayload accounts for one received payload of n bytes, decodable or
// not.
func (s *Stats) RecordPayload(n int) {
	s.TotalBytes += int64(n)
}

// RecordDecoded accounts for one successfully decoded message carrying
// tagCount tags.
func (s *Stats) RecordDecoded(tagCount int) {
	s.MessageCount++
	s.TotalTagCount += int64(tagCount)
}

// Throughput holds the per-second rates derived from a finished capture.
type Throughput struct {
	MessagesPerSecond int64
	TagsPerSecond     int64
	BytesPerSecond    int64
}

// Derive computes per-second rates as integer division of the totals by the
// whole elapsed seconds. A window of less than one second yields
// ErrZeroDuration rather than a division by zero.
func (s *Stats) Derive(elapsed time.Duration) (Throughput, error) {
	secs := int64(elapsed / time.Second)
	if secs == 0 {
		return Throughput{}, ErrZeroDuration
	}
	return Throughput{
		MessagesPerSecond: s.MessageCount / secs,
		TagsPerSecond:     s.TotalTagCount / secs,
		BytesPerSecond:    s.TotalBytes / secs,
	}, nil
}

// TagCount reports the number of tags carried by a decoded payload. A
// payload shaped as an array of key-value groups contributes the sum of
// each group's key count; any other shape contributes zero.
func TagCount(v any) int {
	groups, ok := v.([]any)
	if !ok {
		return 0
	}
	total := 0
	for _, g := range groups {
		if obj, ok := g.(map[string]any); ok {
			total += len(obj)
		}
	}
	return total
}

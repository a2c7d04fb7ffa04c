package capture

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// LoopResult is everything the consume loop hands back when it stops: the
// captured set in arrival order, the accumulated counters, and the wall
// clock time the loop actually ran.
type LoopResult struct {
	Records []Record
	Stats   Stats
	Elapsed time.Duration
}

// RunLoop consumes the broker stream until the deadline elapses, the
// context is cancelled, or the stream closes. For each message it counts
// the payload bytes, decodes the payload as JSON, and on success appends
// the decoded record and its tag count. Payloads that fail to decode are
// dropped from the captured set but keep their byte count. A loss signal
// blocks the loop in Reconnect until the connection is back.
//
// The deadline comparison happens once per processed item, so slow traffic
// can overrun the nominal deadline by at most one message. Cancel the
// context for a hard stop.
func RunLoop(ctx context.Context, stream BrokerStream, deadline time.Duration, logger zerolog.Logger) LoopResult {
	logger = logger.With().Str("component", "ConsumeLoop").Logger()
	logger.Info().Dur("deadline", deadline).Msg("Capturing messages...")

	var (
		records []Record
		stats   Stats
		start   = time.Now()
	)

	done := func() LoopResult {
		elapsed := time.Since(start)
		logger.Info().
			Int("records", len(records)).
			Str("total_size", humanize.Bytes(uint64(stats.TotalBytes))).
			Dur("elapsed", elapsed).
			Msg("Capture loop stopped.")
		return LoopResult{Records: records, Stats: stats, Elapsed: elapsed}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Capture loop cancelled.")
			return done()
		case ev, ok := <-stream.Events():
			if !ok {
				logger.Warn().Msg("Inbound stream closed, stopping capture loop.")
				return done()
			}
			if ev.Lost {
				logger.Warn().Err(ev.Err).Msg("Connection loss signalled, reconnecting...")
				if err := stream.Reconnect(ctx); err != nil {
					logger.Info().Msg("Reconnect cancelled, stopping capture loop.")
					return done()
				}
			} else {
				consume(ev.Message, &records, &stats, logger)
			}
			if time.Since(start) > deadline {
				return done()
			}
			logger.Debug().
				Int("records", len(records)).
				Str("total_size", humanize.Bytes(uint64(stats.TotalBytes))).
				Dur("elapsed", time.Since(start)).
				Msg("Capturing...")
		}
	}
}

// consume accounts for one inbound message and appends it to the captured
// set if the payload decodes.
func consume(msg *Message, records *[]Record, stats *Stats, logger zerolog.Logger) {
	stats.RecordPayload(len(msg.Payload))

	var v Record
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		// Received but unparseable: bytes already counted, record dropped.
		logger.Debug().Err(err).Str("topic", msg.Topic).Msg("Dropping undecodable payload.")
		return
	}
	*records = append(*records, v)
	stats.RecordDecoded(TagCount(v))
}

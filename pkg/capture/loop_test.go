package capture_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calyptra/mqttcap/pkg/capture"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream feeds a scripted sequence of events to the loop.
type fakeStream struct {
	events         chan capture.Event
	reconnectCalls atomic.Int32
	reconnectErr   error
}

func newFakeStream(buffer int) *fakeStream {
	return &fakeStream{events: make(chan capture.Event, buffer)}
}

func (f *fakeStream) Events() <-chan capture.Event { return f.events }

func (f *fakeStream) Reconnect(ctx context.Context) error {
	f.reconnectCalls.Add(1)
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	return ctx.Err()
}

func (f *fakeStream) message(payload string) {
	f.events <- capture.Event{Message: &capture.Message{Topic: "t1", Payload: []byte(payload)}}
}

func (f *fakeStream) loss() {
	f.events <- capture.Event{Lost: true, Err: fmt.Errorf("connection reset")}
}

// jsonPayload builds a decodable payload of exactly n bytes (n >= 9).
func jsonPayload(n int) string {
	return fmt.Sprintf(`{"k":"%s"}`, strings.Repeat("x", n-8))
}

func TestRunLoop_CountsBytesAndMessages(t *testing.T) {
	stream := newFakeStream(10)
	for _, size := range []int{10, 20, 10, 15, 25} {
		stream.message(jsonPayload(size))
	}
	close(stream.events)

	result := capture.RunLoop(context.Background(), stream, time.Minute, zerolog.Nop())

	assert.Equal(t, int64(5), result.Stats.MessageCount)
	assert.Equal(t, int64(80), result.Stats.TotalBytes)
	assert.Len(t, result.Records, 5)
}

func TestRunLoop_UndecodablePayloadKeepsBytesDropsRecord(t *testing.T) {
	stream := newFakeStream(10)
	stream.message(`{"a":1}`)
	stream.message("not json!!")
	stream.message(`[{"b":2}]`)
	close(stream.events)

	result := capture.RunLoop(context.Background(), stream, time.Minute, zerolog.Nop())

	assert.Equal(t, int64(2), result.Stats.MessageCount)
	assert.Len(t, result.Records, 2)
	// All three payloads are 7+10+9 = 26 bytes, decodable or not.
	assert.Equal(t, int64(26), result.Stats.TotalBytes)
	assert.Equal(t, int64(1), result.Stats.TotalTagCount)
}

func TestRunLoop_LossSignalTriggersSingleReconnect(t *testing.T) {
	const n, m = 3, 2

	stream := newFakeStream(10)
	for i := 0; i < n; i++ {
		stream.message("{}")
	}
	stream.loss()
	for i := 0; i < m; i++ {
		stream.message("{}")
	}
	close(stream.events)

	result := capture.RunLoop(context.Background(), stream, time.Minute, zerolog.Nop())

	assert.Equal(t, int32(1), stream.reconnectCalls.Load())
	assert.Equal(t, int64(n+m), result.Stats.MessageCount)
	assert.Equal(t, int64(0), result.Stats.TotalTagCount)
}

func TestRunLoop_DeadlineAllowsAtMostOneOverrun(t *testing.T) {
	stream := newFakeStream(10)
	stream.message(`{"a":1}`)

	go func() {
		time.Sleep(150 * time.Millisecond)
		// Arrives after the deadline: processed as the single permitted
		// overrun, after which the per-item check stops the loop.
		stream.message(`{"b":2}`)
		stream.message(`{"c":3}`)
	}()

	result := capture.RunLoop(context.Background(), stream, 50*time.Millisecond, zerolog.Nop())

	assert.Equal(t, int64(2), result.Stats.MessageCount)
	assert.GreaterOrEqual(t, result.Elapsed, 50*time.Millisecond)
}

func TestRunLoop_CancellationStopsLoop(t *testing.T) {
	stream := newFakeStream(1)
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan capture.LoopResult, 1)
	go func() {
		resultCh <- capture.RunLoop(ctx, stream, time.Hour, zerolog.Nop())
	}()

	cancel()

	select {
	case result := <-resultCh:
		assert.Empty(t, result.Records)
		assert.Equal(t, int64(0), result.Stats.MessageCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled loop to stop")
	}
}

func TestRunLoop_CancelledReconnectStopsLoop(t *testing.T) {
	stream := newFakeStream(10)
	stream.reconnectErr = context.Canceled
	stream.message(`{"a":1}`)
	stream.loss()

	result := capture.RunLoop(context.Background(), stream, time.Hour, zerolog.Nop())

	require.Equal(t, int32(1), stream.reconnectCalls.Load())
	assert.Equal(t, int64(1), result.Stats.MessageCount)
}

func TestRunLoop_CountMatchesCapturedSet(t *testing.T) {
	stream := newFakeStream(20)
	payloads := []string{`{"a":1}`, "garbage", `[]`, `[{"x":1,"y":2}]`, "{{", `3`}
	for _, p := range payloads {
		stream.message(p)
	}
	close(stream.events)

	result := capture.RunLoop(context.Background(), stream, time.Minute, zerolog.Nop())

	assert.Equal(t, int64(len(result.Records)), result.Stats.MessageCount)
	assert.Equal(t, int64(4), result.Stats.MessageCount)
}

package capture_test

import (
	"testing"
	"time"

	"github.com/calyptra/mqttcap/pkg/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_Accumulation(t *testing.T) {
	var s capture.Stats

	s.RecordPayload(10)
	s.RecordDecoded(3)
	s.RecordPayload(20)
	s.RecordDecoded(0)
	// A payload that failed to decode still counts its bytes.
	s.RecordPayload(5)

	assert.Equal(t, int64(2), s.MessageCount)
	assert.Equal(t, int64(35), s.TotalBytes)
	assert.Equal(t, int64(3), s.TotalTagCount)
}

func TestStats_Derive(t *testing.T) {
	s := capture.Stats{MessageCount: 10, TotalBytes: 4096, TotalTagCount: 25}

	tp, err := s.Derive(4 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tp.MessagesPerSecond)
	assert.Equal(t, int64(6), tp.TagsPerSecond)
	assert.Equal(t, int64(1024), tp.BytesPerSecond)
}

func TestStats_DeriveIsIntegerDivision(t *testing.T) {
	s := capture.Stats{MessageCount: 7, TotalBytes: 100, TotalTagCount: 3}

	tp, err := s.Derive(2500 * time.Millisecond)
	require.NoError(t, err)
	// 2.5s truncates to 2 whole seconds.
	assert.Equal(t, int64(3), tp.MessagesPerSecond)
	assert.Equal(t, int64(1), tp.TagsPerSecond)
	assert.Equal(t, int64(50), tp.BytesPerSecond)
}

func TestStats_DeriveZeroWindow(t *testing.T) {
	s := capture.Stats{MessageCount: 5, TotalBytes: 80}

	_, err := s.Derive(500 * time.Millisecond)
	assert.ErrorIs(t, err, capture.ErrZeroDuration)

	_, err = s.Derive(0)
	assert.ErrorIs(t, err, capture.ErrZeroDuration)
}

func TestTagCount(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{
			name: "array of objects sums key counts",
			in:   []any{map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"c": 3.0}},
			want: 3,
		},
		{
			name: "empty object carries no tags",
			in:   map[string]any{},
			want: 0,
		},
		{
			name: "scalar carries no tags",
			in:   42.0,
			want: 0,
		},
		{
			name: "array of scalars carries no tags",
			in:   []any{1.0, 2.0},
			want: 0,
		},
		{
			name: "mixed array only counts the objects",
			in:   []any{map[string]any{"a": 1.0}, "noise"},
			want: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, capture.TagCount(tc.in))
		})
	}
}

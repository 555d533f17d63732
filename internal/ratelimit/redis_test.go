package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWeightedCount(t *testing.T) {
	window := 10 * time.Second

	tests := []struct {
		name    string
		prev    int64
		cur     int64
		elapsed time.Duration
		want    int64
	}{
		{"window start carries previous bucket in full", 10, 1, 0, 11},
		{"halfway carries half the previous bucket", 10, 3, 5 * time.Second, 8},
		{"window end drops the previous bucket", 10, 4, 10 * time.Second, 4},
		{"no previous bucket", 0, 7, 3 * time.Second, 7},
		{"fraction truncates toward zero", 3, 1, 9 * time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, weightedCount(tt.prev, tt.cur, tt.elapsed, window))
		})
	}
}

func TestRedisStoreBucketKey(t *testing.T) {
	s := NewRedisStore(nil, "")
	start := time.UnixMilli(1_700_000_000_000)

	require.Equal(t, "kudos:rl:chat-message:u1:1700000000000", s.bucketKey("chat-message:u1", start))

	s = NewRedisStore(nil, "other:")
	require.Equal(t, "other:chat-message:u1:1700000000000", s.bucketKey("chat-message:u1", start))
}

package audit

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamName is the Redis stream audit records append to.
const DefaultStreamName = "aegis:audit"

// defaultMaxLen caps the stream length (approximate trimming) so an
// unattended deployment cannot grow Redis without bound.
const defaultMaxLen = 100_000

// RedisSink appends audit records to a capped Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to Redis at addr and appends to stream. An empty
// stream selects DefaultStreamName.
func NewRedisSink(addr, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStreamName
	}
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
		maxLen: defaultMaxLen,
	}
}

// Emit appends one record with XADD.
func (s *RedisSink) Emit(ctx context.Context, rec Record) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"request_id":      rec.RequestID,
			"action":          rec.Action,
			"policies":        strings.Join(rec.AppliedPolicyIDs, ","),
			"detection_count": rec.DetectionCount,
			"timestamp":       rec.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

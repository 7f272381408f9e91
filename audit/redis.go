package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/warp/municipal-wallet/wallet"
)

// RedisStreamConfig configures the Redis stream sink.
type RedisStreamConfig struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr     string
	Username string
	Password string
	DB       int
	// Stream is the key entries are appended to.
	Stream string
	// MaxLen trims the stream approximately to this length. 0 keeps everything.
	MaxLen      int64
	DialTimeout time.Duration
}

func DefaultRedisStreamConfig() RedisStreamConfig {
	return RedisStreamConfig{
		Addr:        "localhost:6379",
		Stream:      "wallet:audit",
		MaxLen:      100000,
		DialTimeout: 5 * time.Second,
	}
}

// RedisStream appends audit entries to a Redis stream with XADD.
type RedisStream struct {
	client rueidis.Client
	stream string
	maxLen int64
}

// NewRedisStream wraps an existing client.
func NewRedisStream(client rueidis.Client, cfg RedisStreamConfig) *RedisStream {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultRedisStreamConfig().Stream
	}
	return &RedisStream{client: client, stream: stream, maxLen: cfg.MaxLen}
}

// DialRedisStream opens a client and pings the server.
func DialRedisStream(cfg RedisStreamConfig) (*RedisStream, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Addr},
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}
	return NewRedisStream(client, cfg), nil
}

func (r *RedisStream) LogAction(ctx context.Context, entry wallet.AuditEntry) error {
	fields, err := streamFields(entry)
	if err != nil {
		return err
	}

	var cmd rueidis.Completed
	if r.maxLen > 0 {
		fv := r.client.B().Xadd().Key(r.stream).Maxlen().Almost().Threshold(strconv.FormatInt(r.maxLen, 10)).Id("*").FieldValue()
		for _, kv := range fields {
			fv = fv.FieldValue(kv[0], kv[1])
		}
		cmd = fv.Build()
	} else {
		fv := r.client.B().Xadd().Key(r.stream).Id("*").FieldValue()
		for _, kv := range fields {
			fv = fv.FieldValue(kv[0], kv[1])
		}
		cmd = fv.Build()
	}

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStream) Close() {
	r.client.Close()
}

// streamFields flattens an entry into stream field/value pairs.
func streamFields(e wallet.AuditEntry) ([][2]string, error) {
	fields := [][2]string{
		{"id", e.ID},
		{"timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano)},
		{"actor_id", string(e.ActorID)},
		{"action", string(e.Action)},
		{"description", e.Description},
	}
	if e.TransactionID != "" {
		fields = append(fields, [2]string{"transaction_id", string(e.TransactionID)})
	}
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("redis xadd: failed to marshal details: %w", err)
		}
		fields = append(fields, [2]string{"details", string(b)})
	}
	return fields, nil
}

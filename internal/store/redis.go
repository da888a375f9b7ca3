package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/models"
)

const redisBackend = "redis"

// maxScript sets KEYS[1] to ARGV[1] unless it already holds a larger number.
const maxScript = `
local cur = redis.call('GET', KEYS[1])
if not cur or tonumber(ARGV[1]) > tonumber(cur) then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`

const (
	messageSeqKey   = "messages:seq"
	messageCountKey = "messages:count"
	messageLastKey  = "messages:last"
)

// RedisStore holds the Redis client used for rate limiting and, when
// configured, the message log.
//
// Messages live in a hash per id. Each recipient and sender has a sorted set
// scored by created_at in microseconds whose members are zero-padded ids, so
// a reverse range yields created_at then id, both descending.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func messageKey(id int64) string {
	return fmt.Sprintf("message:%d", id)
}

func inboxKey(address string) string {
	return fmt.Sprintf("inbox:%s", address)
}

func sentKey(address string) string {
	return fmt.Sprintf("sent:%s", address)
}

// indexMember renders an id so lexical order equals numeric order.
func indexMember(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// AppendMessage allocates an id with INCR and writes the message and both
// indexes in one MULTI/EXEC. A failed transaction burns the id but never
// exposes it.
func (s *RedisStore) AppendMessage(ctx context.Context, sender, recipient, encryptedBody string, createdAt time.Time) (int64, error) {
	defer observe(redisBackend, "append_message", time.Now())

	id, err := s.client.Incr(ctx, messageSeqKey).Result()
	if err != nil {
		return 0, unavailable("allocate message id", err)
	}

	from := crypto.NormalizeAddress(sender)
	to := crypto.NormalizeAddress(recipient)
	ts := createdAt.UnixMicro()
	member := indexMember(id)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, messageKey(id), map[string]interface{}{
			"sender":         from,
			"recipient":      to,
			"encrypted_body": encryptedBody,
			"created_at":     ts,
		})
		pipe.ZAdd(ctx, inboxKey(to), redis.Z{Score: float64(ts), Member: member})
		pipe.ZAdd(ctx, sentKey(from), redis.Z{Score: float64(ts), Member: member})
		pipe.Incr(ctx, messageCountKey)
		pipe.Eval(ctx, maxScript, []string{messageLastKey}, ts)
		return nil
	})
	if err != nil {
		return 0, unavailable("append message", err)
	}

	return id, nil
}

// ListByRecipient returns the inbox of an address, newest first.
func (s *RedisStore) ListByRecipient(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(redisBackend, "list_by_recipient", time.Now())
	return s.listIndex(ctx, inboxKey(crypto.NormalizeAddress(address)))
}

// ListBySender returns the messages an address has sent, newest first.
func (s *RedisStore) ListBySender(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(redisBackend, "list_by_sender", time.Now())
	return s.listIndex(ctx, sentKey(crypto.NormalizeAddress(address)))
}

func (s *RedisStore) listIndex(ctx context.Context, key string) ([]models.Message, error) {
	members, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list messages", err)
	}

	messages := make([]models.Message, 0, len(members))
	if len(members) == 0 {
		return messages, nil
	}

	ids := make([]int64, len(members))
	cmds := make([]*redis.MapStringStringCmd, len(members))
	pipe := s.client.Pipeline()
	for i, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("corrupt index member %q in %s", member, key), err)
		}
		ids[i] = id
		cmds[i] = pipe.HGetAll(ctx, messageKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("load messages", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		ts, err := strconv.ParseInt(fields["created_at"], 10, 64)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("corrupt created_at for message %d", ids[i]), err)
		}
		messages = append(messages, models.Message{
			ID:            ids[i],
			Sender:        fields["sender"],
			Recipient:     fields["recipient"],
			EncryptedBody: fields["encrypted_body"],
			CreatedAt:     time.UnixMicro(ts).UTC(),
		})
	}

	return messages, nil
}

// MessageStats returns the total message count and the latest timestamp.
func (s *RedisStore) MessageStats(ctx context.Context) (int64, *time.Time, error) {
	count, err := s.client.Get(ctx, messageCountKey).Int64()
	if err == redis.Nil {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, unavailable("message stats", err)
	}

	ts, err := s.client.Get(ctx, messageLastKey).Int64()
	if err == redis.Nil {
		return count, nil, nil
	}
	if err != nil {
		return 0, nil, unavailable("message stats", err)
	}
	last := time.UnixMicro(ts).UTC()
	return count, &last, nil
}

package socket

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps presence in a shared Redis key space so multiple
// server instances see the same viewer sets. Same contract as
// MemoryRegistry; rooms themselves (the websocket connections) remain
// per-instance.
//
// Key layout, all under "presence:":
//
//	presence:doc:<docID>   set of userIDs viewing the document
//	presence:user:<userID> the user's current connID
//	presence:conn:<connID> reverse index, connID -> userID
//	presence:docs          set of docIDs with any viewer
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisRegistry{client: client, prefix: "presence:"}, nil
}

// NewRedisRegistryWithClient creates a registry from an existing client.
func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "presence:"}
}

func (r *RedisRegistry) docKey(docID string) string   { return r.prefix + "doc:" + docID }
func (r *RedisRegistry) userKey(userID string) string { return r.prefix + "user:" + userID }
func (r *RedisRegistry) connKey(connID string) string { return r.prefix + "conn:" + connID }
func (r *RedisRegistry) docsKey() string              { return r.prefix + "docs" }

func (r *RedisRegistry) Join(ctx context.Context, docID, userID, connID string) error {
	// Last-connected wins: drop the reverse index entry for any
	// connection this user held before.
	oldConn, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lookup previous connection: %w", err)
	}
	if oldConn != "" && oldConn != connID {
		if err := r.client.Del(ctx, r.connKey(oldConn)).Err(); err != nil {
			return fmt.Errorf("drop stale connection: %w", err)
		}
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.docKey(docID), userID)
	pipe.SAdd(ctx, r.docsKey(), docID)
	pipe.Set(ctx, r.userKey(userID), connID, 0)
	pipe.Set(ctx, r.connKey(connID), userID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("join %s/%s: %w", docID, userID, err)
	}
	return nil
}

func (r *RedisRegistry) Leave(ctx context.Context, docID, userID string) error {
	connID, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lookup connection: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.docKey(docID), userID)
	pipe.Del(ctx, r.userKey(userID))
	if connID != "" {
		pipe.Del(ctx, r.connKey(connID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leave %s/%s: %w", docID, userID, err)
	}
	return r.dropEmptyDoc(ctx, docID)
}

func (r *RedisRegistry) Disconnect(ctx context.Context, connID string) (string, []string, error) {
	userID, err := r.client.Get(ctx, r.connKey(connID)).Result()
	if err == redis.Nil {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("reverse-lookup conn %s: %w", connID, err)
	}

	if err := r.client.Del(ctx, r.connKey(connID), r.userKey(userID)).Err(); err != nil {
		return "", nil, fmt.Errorf("drop conn %s: %w", connID, err)
	}

	// Scan every tracked document, same trade-off as the in-memory
	// registry: correctness over efficiency at presence scale.
	docs, err := r.client.SMembers(ctx, r.docsKey()).Result()
	if err != nil {
		return "", nil, fmt.Errorf("list tracked docs: %w", err)
	}

	var affected []string
	for _, docID := range docs {
		removed, err := r.client.SRem(ctx, r.docKey(docID), userID).Result()
		if err != nil {
			return "", nil, fmt.Errorf("remove viewer from %s: %w", docID, err)
		}
		if removed > 0 {
			affected = append(affected, docID)
			if err := r.dropEmptyDoc(ctx, docID); err != nil {
				return "", nil, err
			}
		}
	}
	sort.Strings(affected)
	return userID, affected, nil
}

func (r *RedisRegistry) Viewers(ctx context.Context, docID string) ([]string, error) {
	users, err := r.client.SMembers(ctx, r.docKey(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("viewers of %s: %w", docID, err)
	}
	sort.Strings(users)
	return users, nil
}

func (r *RedisRegistry) dropEmptyDoc(ctx context.Context, docID string) error {
	n, err := r.client.SCard(ctx, r.docKey(docID)).Result()
	if err != nil {
		return fmt.Errorf("card of %s: %w", docID, err)
	}
	if n == 0 {
		if err := r.client.SRem(ctx, r.docsKey(), docID).Err(); err != nil {
			return fmt.Errorf("untrack %s: %w", docID, err)
		}
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

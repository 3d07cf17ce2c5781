// Package presence mirrors the in-process presence registry into Redis so
// other services can query who is online.
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const onlineKey = "presence:online"

func userKey(userID string) string {
	return "presence:user:" + userID
}

// Redis implements core.PresenceMirror on Redis sets.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// SessionOnline records a live session.
func (r *Redis) SessionOnline(ctx context.Context, userID, sessionID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, userKey(userID), sessionID)
		p.SAdd(ctx, onlineKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

// SessionOffline removes a session; the user leaves the online set with
// their last session.
func (r *Redis) SessionOffline(ctx context.Context, userID, sessionID string) error {
	if err := r.client.SRem(ctx, userKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	left, err := r.client.SCard(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	if left == 0 {
		if err := r.client.SRem(ctx, onlineKey, userID).Err(); err != nil {
			return fmt.Errorf("mark offline: %w", err)
		}
	}
	return nil
}

// Sessions lists the mirrored session ids of a user.
func (r *Redis) Sessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// OnlineUsers lists users with at least one mirrored session.
func (r *Redis) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	return ids, nil
}

// Reset drops mirrored state left over from a previous process.
func (r *Redis) Reset(ctx context.Context) error {
	users, err := r.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	keys := []string{onlineKey}
	for _, u := range users {
		keys = append(keys, userKey(u))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

package fleetstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors robot snapshots into Redis so other services can read
// the fleet picture without speaking MQTT.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func robotKey(serial string) string {
	return fmt.Sprintf("fleetlink:robot:%s", serial)
}

const allRobotsKey = "fleetlink:robots"

func (r *RedisStore) SetRobot(ctx context.Context, serial string, snap *RobotSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, robotKey(serial), data, 0)
	pipe.SAdd(ctx, allRobotsKey, serial)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetRobot(ctx context.Context, serial string) (*RobotSnapshot, error) {
	data, err := r.client.Get(ctx, robotKey(serial)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap RobotSnapshot
	return &snap, json.Unmarshal(data, &snap)
}

func (r *RedisStore) GetAllSerials(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allRobotsKey).Result()
}

func (r *RedisStore) RemoveRobot(ctx context.Context, serial string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, robotKey(serial))
	pipe.SRem(ctx, allRobotsKey, serial)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	serials, err := r.GetAllSerials(ctx)
	if err != nil {
		return err
	}
	for _, s := range serials {
		r.RemoveRobot(ctx, s)
	}
	return r.client.Del(ctx, allRobotsKey).Err()
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type KeyType string

const (
	WEBHOOK_DEDUPE KeyType = "walue_webhook_dedupe"
)

// Realtime channels published to the CRM frontend bridge.
const (
	ChannelMessageStatus    = "whatsapp_message_status"
	ChannelNewMessage       = "whatsapp_new_message"
	ChannelPermissionUpdate = "whatsapp_permission_update"
	ChannelCallStatus       = "whatsapp_call_status"
)

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RedisServiceInterface interface {
	GenerateKey(keyType KeyType, identifier string) string
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// GenerateKey generates a Redis key with the given key type and identifier.
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// SetIfAbsent claims the key if nobody has claimed it yet. It returns true
// when this caller made the claim, false when the key already existed. Used
// as the fast path for duplicate webhook suppression.
func (r *RedisService) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, "1", ttl).Result()
}

// Publish publishes a JSON-encoded message to a Redis channel.
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Close releases the underlying client connection.
func (r *RedisService) Close() error {
	return r.client.Close()
}

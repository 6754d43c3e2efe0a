package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auction-core/internal/models"
	"auction-core/utils"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// LogPublisher writes notifications to the service log
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, n models.Notification) error {
	f := fields(n)
	f["message"] = n.Message
	utils.Info("Notification", f)
	return nil
}

// Multi fans a notification out to every publisher. All publishers are tried
// and their errors joined. The Dispatcher unpacks a Multi and retries each
// backend on its own.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisChannel is the pub/sub channel a user's notifications are published on
func RedisChannel(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// RedisPublisher publishes notifications over Redis pub/sub
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPublisher{client: rdb}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, RedisChannel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Client exposes the underlying connection, for subscribers in tests and tooling
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NATSSubject is the subject a notification of the given type is published on
func NATSSubject(typ models.NotificationType) string {
	return fmt.Sprintf("auction.notifications.%s", typ)
}

// NATSPublisher publishes notifications to NATS
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("auction-core"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := p.conn.Publish(NATSSubject(n.Type), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Conn exposes the underlying connection
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains pending publishes and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

//go:build integration
// +build integration

package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blocklist-app/blocklist-server/internal/config"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

var (
	loggerInitOnce sync.Once
	loggerInitErr  error
)

func initTestLogger() error {
	loggerInitOnce.Do(func() {
		loggerInitErr = logger.Init("debug", "")
	})
	return loggerInitErr
}

func setupTestRabbitMQ(t *testing.T) (*config.RabbitMQConfig, func()) {
	require.NoError(t, initTestLogger())

	ctx := context.Background()

	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start rabbitmq container")

	host, err := rabbitmqContainer.Host(ctx)
	require.NoError(t, err)

	port, err := rabbitmqContainer.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	cfg := &config.RabbitMQConfig{
		Enabled:    true,
		Host:       host,
		Port:       port.Int(),
		User:       "guest",
		Password:   "guest",
		Exchange:   "test.events",
		Queue:      "test.audit",
		RoutingKey: RoutingKeyAudit,
	}

	cleanup := func() {
		if err := rabbitmqContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return cfg, cleanup
}

func TestNewMessagePublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)
	defer mp.Close()

	assert.True(t, mp.IsHealthy())
}

func TestMessagePublisher_AuditEntryReachesQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)
	defer mp.Close()

	target := "alice"
	entry := models.AuditEntry{
		ID:        7,
		Action:    ActionUserCreate,
		Actor:     "admin",
		Target:    &target,
		Details:   json.RawMessage(`{"id":3}`),
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, mp.Publish(ctx, RoutingKeyAudit, "7", entry))

	conn, err := amqp.Dial(cfg.URL())
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	var msg amqp.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		msg, ok, err = ch.Get(cfg.Queue, true)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)

	assert.Equal(t, "7", msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)

	var got models.AuditEntry
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, ActionUserCreate, got.Action)
	assert.JSONEq(t, `{"id":3}`, string(got.Details))
}

func TestMessagePublisher_IsHealthy(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)

	assert.True(t, mp.IsHealthy())
	require.NoError(t, mp.Close())
	assert.False(t, mp.IsHealthy())
}

func TestMessagePublisher_ReconnectsAfterConnectionLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)
	defer mp.Close()

	require.NoError(t, mp.conn.Close())
	assert.False(t, mp.IsHealthy())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	alert := models.Alert{Type: "rate_limit", Path: "/api/users", IP: "10.0.0.1", Limit: 20, Timestamp: time.Now().UTC()}
	require.NoError(t, mp.Publish(ctx, RoutingKeyAlert, "alert-1", alert))
	assert.True(t, mp.IsHealthy())
}

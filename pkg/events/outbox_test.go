package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/idgen"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []events.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sent() []events.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Message(nil), p.msgs...)
}

type outboxSuite struct {
	suite.Suite

	db        *gorm.DB
	outbox    *events.Outbox
	publisher *fakePublisher
	relay     *events.Relay
}

func TestOutboxSuite(t *testing.T) {
	suite.Run(t, new(outboxSuite))
}

func (suite *outboxSuite) SetupTest() {
	t := suite.T()

	db, err := repository.OpenDatabase(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        fmt.Sprintf("file:outbox_%d?mode=memory&cache=shared", time.Now().UnixNano()),
		AutoMigrate: true,
	}, zap.NewNop())
	suite.Require().NoError(err)
	suite.db = db

	ids, err := idgen.New(0, 1)
	suite.Require().NoError(err)

	suite.outbox = events.NewOutbox(ids, "orders")
	suite.publisher = &fakePublisher{}
	suite.relay = events.NewRelay(db, suite.outbox, suite.publisher, 10*time.Millisecond, 10, zap.NewNop())

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
}

func (suite *outboxSuite) enqueue(key string, payload any) {
	err := suite.db.Transaction(func(tx *gorm.DB) error {
		return suite.outbox.Enqueue(tx, key, payload)
	})
	suite.Require().NoError(err)
}

func (suite *outboxSuite) TestFlushPublishesAndStamps() {
	t := suite.T()
	ctx := t.Context()

	suite.enqueue("1", events.Envelope("order", map[string]any{"id": "1"}, events.ActionCreate))
	suite.enqueue("2", events.Envelope("order", map[string]any{"id": "2"}, events.ActionCreate))

	n, err := suite.relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := suite.publisher.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "orders", sent[0].Topic)
	assert.Equal(t, "1", sent[0].Key)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(sent[0].Value, &envelope))
	assert.Equal(t, "create", envelope["action"])
	assert.Equal(t, map[string]any{"id": "1"}, envelope["order"])

	var pending int64
	require.NoError(t, suite.db.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending).Error)
	assert.Zero(t, pending)

	// nothing left on the second pass
	n, err = suite.relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (suite *outboxSuite) TestFailedPublishIsRetried() {
	t := suite.T()
	ctx := t.Context()

	suite.enqueue("7", events.Envelope("order", map[string]any{"id": "7"}, events.ActionCreate))

	suite.publisher.err = errors.New("broker down")
	_, err := suite.relay.Flush(ctx)
	require.ErrorContains(t, err, "broker down")

	var event models.OutboxEvent
	require.NoError(t, suite.db.First(&event).Error)
	assert.Nil(t, event.PublishedAt)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.LastError)
	assert.Contains(t, *event.LastError, "broker down")

	suite.publisher.err = nil
	n, err := suite.relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, suite.db.First(&event).Error)
	assert.NotNil(t, event.PublishedAt)
	assert.Equal(t, 2, event.Attempts)
}

func (suite *outboxSuite) TestRollbackDropsEvent() {
	t := suite.T()

	_ = suite.db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, suite.outbox.Enqueue(tx, "9", map[string]any{"order": nil}))
		return errors.New("abort")
	})

	var count int64
	require.NoError(t, suite.db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func (suite *outboxSuite) TestRunReactsToKick() {
	t := suite.T()
	ctx, cancel := context.WithCancel(t.Context())

	relay := events.NewRelay(suite.db, suite.outbox, suite.publisher, time.Hour, 10, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	suite.enqueue("11", events.Envelope("order", map[string]any{"id": "11"}, events.ActionUpdate))
	suite.outbox.Kick()

	require.Eventually(t, func() bool {
		return len(suite.publisher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

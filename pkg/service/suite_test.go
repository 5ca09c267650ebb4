package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/idgen"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Dispatch(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) all() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Notification(nil), f.sent...)
}

func (f *fakeNotifier) last() (notify.Notification, bool) {
	all := f.all()
	if len(all) == 0 {
		return notify.Notification{}, false
	}
	return all[len(all)-1], true
}

type fakeAudit struct {
	mu   sync.Mutex
	logs []*repository.AuditLog
}

func (f *fakeAudit) CreateAuditLog(_ context.Context, log *repository.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		actions = append(actions, l.Action)
	}
	return actions
}

// serviceSuite gives every test a fresh in-memory database and the shared collaborators.
type serviceSuite struct {
	suite.Suite

	db       *gorm.DB
	deps     service.Deps
	notifier *fakeNotifier
	audit    *fakeAudit
	stock    *events.Broadcaster
}

func (suite *serviceSuite) SetupTest() {
	db, err := repository.OpenDatabase(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        fmt.Sprintf("file:service_%d?mode=memory&cache=shared", time.Now().UnixNano()),
		AutoMigrate: true,
	}, zap.NewNop())
	suite.Require().NoError(err)
	suite.db = db

	ids, err := idgen.New(1, 1)
	suite.Require().NoError(err)

	suite.notifier = &fakeNotifier{}
	suite.audit = &fakeAudit{}
	suite.stock = events.NewBroadcaster(16)
	suite.deps = service.Deps{
		DB:       db,
		IDs:      ids,
		Outbox:   events.NewOutbox(ids, "orders"),
		Notifier: suite.notifier,
		Audit:    suite.audit,
		Stock:    suite.stock,
		Logger:   zap.NewNop(),
	}
}

func (suite *serviceSuite) TearDownTest() {
	sqlDB, err := suite.db.DB()
	suite.Require().NoError(err)
	suite.Require().NoError(sqlDB.Close())
}

func (suite *serviceSuite) outboxCount() int64 {
	var count int64
	suite.Require().NoError(suite.db.Model(&models.OutboxEvent{}).Count(&count).Error)
	return count
}

func (suite *serviceSuite) createUser() models.User {
	user := models.User{
		ID:           uuid.NewString(),
		Firstname:    gofakeit.FirstName(),
		Lastname:     gofakeit.LastName(),
		Email:        gofakeit.Email(),
		PasswordHash: "x",
		Role:         models.RoleCustomer,
		Active:       true,
	}
	suite.Require().NoError(suite.db.Create(&user).Error)
	return user
}

func randomPrice() decimal.Decimal {
	return decimal.NewFromFloat(gofakeit.Price(1, 100)).Round(2)
}

func randomItems(n int) []service.OrderItemInput {
	items := make([]service.OrderItemInput, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, service.OrderItemInput{
			ProductID:    uuid.NewString(),
			Quantity:     gofakeit.Number(1, 5),
			PricePerUnit: ptr(randomPrice()),
		})
	}
	return items
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/example/storefront/gateway"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/idgen"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"code"`
}

type gatewaySuite struct {
	suite.Suite

	db       *gorm.DB
	tokens   *auth.TokenManager
	services gateway.Services
	handler  http.Handler
}

type fakeAuditTrail struct {
	logs []*repository.AuditLog
}

func (f *fakeAuditTrail) GetAuditLogs(_ context.Context, entityID string, limit int64) ([]*repository.AuditLog, error) {
	var out []*repository.AuditLog
	for _, l := range f.logs {
		if l.EntityID == entityID && int64(len(out)) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(gatewaySuite))
}

func (suite *gatewaySuite) SetupTest() {
	db, err := repository.OpenDatabase(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        fmt.Sprintf("file:gateway_%d?mode=memory&cache=shared", time.Now().UnixNano()),
		AutoMigrate: true,
	}, zap.NewNop())
	suite.Require().NoError(err)
	suite.db = db

	ids, err := idgen.New(1, 1)
	suite.Require().NoError(err)

	mr := miniredis.RunT(suite.T())
	sessions := repository.NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	suite.tokens = auth.NewTokenManager("gateway-secret", 15*time.Minute, time.Hour)

	stock := events.NewBroadcaster(16)
	deps := service.Deps{
		DB:     db,
		IDs:    ids,
		Outbox: events.NewOutbox(ids, "orders"),
		Stock:  stock,
		Logger: zap.NewNop(),
	}

	suite.services = gateway.Services{
		Orders:    service.NewOrderService(deps, true),
		Payments:  service.NewPaymentService(deps, service.PaymentOptions{StrictTransitions: true}),
		Catalog:   service.NewCatalogService(deps, nil),
		Inventory: service.NewInventoryService(deps),
		Carts:     service.NewCartService(deps),
		Users:     service.NewUserService(deps, sessions, suite.tokens, 10*time.Minute),
		Promos:    service.NewPromoService(deps),
		Stock:     stock,
	}
	suite.handler = gateway.NewGateway(&config.ServerConfig{Mode: gin.TestMode}, zap.NewNop(), suite.services).Handler()
}

func (suite *gatewaySuite) TearDownTest() {
	sqlDB, err := suite.db.DB()
	suite.Require().NoError(err)
	suite.Require().NoError(sqlDB.Close())
}

func (suite *gatewaySuite) do(method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		suite.Require().NoError(err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	suite.handler.ServeHTTP(rec, req)

	var env envelope
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	suite.Equal(rec.Code, env.Code)
	return rec, env
}

func (suite *gatewaySuite) tokenFor(role models.Role) string {
	user := models.User{
		ID:           uuid.NewString(),
		Firstname:    gofakeit.FirstName(),
		Email:        gofakeit.Email(),
		PasswordHash: "x",
		Role:         role,
		Active:       true,
	}
	suite.Require().NoError(suite.db.Create(&user).Error)

	token, err := suite.tokens.Issue(user.ID, user.Email, string(role), auth.TokenAccess)
	suite.Require().NoError(err)
	return token
}

func (suite *gatewaySuite) TestCreateOrder() {
	rec, env := suite.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"user_id": uuid.NewString(),
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 2, "price_per_unit": "9.99"},
		},
	}, "")
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	suite.True(env.Success)

	var order struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		TotalAmount string `json:"total_amount"`
		Items       []struct {
			TotalPrice string `json:"total_price"`
		} `json:"items"`
	}
	suite.Require().NoError(json.Unmarshal(env.Data, &order))
	suite.Equal("Pending", order.Status)
	suite.Equal("19.98", order.TotalAmount)
	suite.Require().Len(order.Items, 1)
	suite.Equal("19.98", order.Items[0].TotalPrice)

	rec, _ = suite.do(http.MethodGet, "/api/v1/orders/"+order.ID, nil, "")
	suite.Equal(http.StatusOK, rec.Code)

	rec, _ = suite.do(http.MethodDelete, "/api/v1/orders/"+order.ID, nil, "")
	suite.Equal(http.StatusOK, rec.Code)

	var items int64
	suite.Require().NoError(suite.db.Model(&models.OrderItem{}).Count(&items).Error)
	suite.Zero(items)
}

func (suite *gatewaySuite) TestDeleteUnknownOrder() {
	rec, env := suite.do(http.MethodDelete, "/api/v1/orders/123456789", nil, "")
	suite.Equal(http.StatusNotFound, rec.Code)
	suite.False(env.Success)
}

func (suite *gatewaySuite) TestValidationErrors() {
	rec, env := suite.do(http.MethodPost, "/api/v1/orders", map[string]any{"user_id": "u1"}, "")
	suite.Require().Equal(http.StatusUnprocessableEntity, rec.Code)

	var fields []service.FieldError
	suite.Require().NoError(json.Unmarshal(env.Data, &fields))
	suite.Require().NotEmpty(fields)
	suite.Equal([]string{"body", "items"}, fields[0].Location)

	rec, env = suite.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"user_id": "u1",
		"items":   []map[string]any{{"product_id": "p1", "quantity": 1}},
	}, "")
	suite.Require().Equal(http.StatusUnprocessableEntity, rec.Code)
	suite.Require().NoError(json.Unmarshal(env.Data, &fields))
	suite.Require().Len(fields, 1)
	suite.Equal([]string{"body", "items", "0", "price_per_unit"}, fields[0].Location)
	suite.Equal("value_error.required", fields[0].Type)

	rec, env = suite.do(http.MethodPost, "/api/v1/orders", `{"items": [`, "")
	suite.Equal(http.StatusUnprocessableEntity, rec.Code)
	suite.Require().NoError(json.Unmarshal(env.Data, &fields))
	suite.Equal("json_invalid", fields[0].Type)

	rec, _ = suite.do(http.MethodGet, "/api/v1/orders/not-a-number", nil, "")
	suite.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec, _ = suite.do(http.MethodPut, "/api/v1/orders/1", map[string]any{"status": "Shipped"}, "")
	suite.Equal(http.StatusNotFound, rec.Code)
}

func (suite *gatewaySuite) TestAdminGate() {
	body := map[string]any{"name": "Books"}

	rec, _ := suite.do(http.MethodPost, "/api/v1/categories", body, "")
	suite.Equal(http.StatusUnauthorized, rec.Code)

	rec, _ = suite.do(http.MethodPost, "/api/v1/categories", body, "garbage")
	suite.Equal(http.StatusUnauthorized, rec.Code)

	rec, _ = suite.do(http.MethodPost, "/api/v1/categories", body, suite.tokenFor(models.RoleCustomer))
	suite.Equal(http.StatusForbidden, rec.Code)

	rec, _ = suite.do(http.MethodPost, "/api/v1/categories", body, suite.tokenFor(models.RoleAdmin))
	suite.Equal(http.StatusCreated, rec.Code)

	rec, env := suite.do(http.MethodGet, "/api/v1/categories", nil, "")
	suite.Equal(http.StatusOK, rec.Code)
	var categories []models.Category
	suite.Require().NoError(json.Unmarshal(env.Data, &categories))
	suite.Len(categories, 1)
}

func (suite *gatewaySuite) TestRegisterLoginMe() {
	email := gofakeit.Email()
	rec, _ := suite.do(http.MethodPost, "/api/v1/users/register", map[string]any{
		"firstname": "Grace",
		"lastname":  "Hopper",
		"email":     email,
		"password":  "s3cret-password",
	}, "")
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := suite.do(http.MethodPost, "/api/v1/users/login", map[string]any{"email": email, "password": "s3cret-password"}, "")
	suite.Require().Equal(http.StatusOK, rec.Code)
	var tokens service.TokenPair
	suite.Require().NoError(json.Unmarshal(env.Data, &tokens))

	rec, env = suite.do(http.MethodGet, "/api/v1/users/me", nil, tokens.AccessToken)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var me models.User
	suite.Require().NoError(json.Unmarshal(env.Data, &me))
	suite.Equal("Grace", me.Firstname)

	rec, _ = suite.do(http.MethodPost, "/api/v1/users/logout", nil, tokens.AccessToken)
	suite.Equal(http.StatusOK, rec.Code)

	rec, _ = suite.do(http.MethodPost, "/api/v1/users/refresh", map[string]any{"refresh_token": tokens.RefreshToken}, "")
	suite.Equal(http.StatusUnauthorized, rec.Code)
}

func (suite *gatewaySuite) TestAnonymousCart() {
	rec, env := suite.do(http.MethodPost, "/api/v1/carts", nil, "")
	suite.Require().Equal(http.StatusCreated, rec.Code)
	var cart models.Cart
	suite.Require().NoError(json.Unmarshal(env.Data, &cart))

	rec, _ = suite.do(http.MethodPost, "/api/v1/carts/"+cart.ID+"/items", map[string]any{
		"product_id": "p1", "product_variant_id": "v1", "quantity": 2,
	}, "")
	suite.Equal(http.StatusOK, rec.Code)

	rec, env = suite.do(http.MethodGet, "/api/v1/carts", nil, "")
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().NoError(json.Unmarshal(env.Data, &cart))
	suite.Require().Len(cart.Items, 1)
	suite.Equal(2, cart.Items[0].Quantity)

	var byID models.Cart
	rec, env = suite.do(http.MethodGet, "/api/v1/carts/"+cart.ID, nil, "")
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().NoError(json.Unmarshal(env.Data, &byID))
	suite.Equal(cart.ID, byID.ID)
	suite.Require().Len(byID.Items, 1)

	rec, _ = suite.do(http.MethodGet, "/api/v1/carts/"+uuid.NewString(), nil, "")
	suite.Equal(http.StatusNotFound, rec.Code)
}

func (suite *gatewaySuite) TestHealth() {
	rec, env := suite.do(http.MethodGet, "/health", nil, "")
	suite.Equal(http.StatusOK, rec.Code)
	suite.True(env.Success)
}

func (suite *gatewaySuite) TestAuditTrail() {
	admin := suite.tokenFor(models.RoleAdmin)

	rec, _ := suite.do(http.MethodGet, "/api/v1/admin/audit/42", nil, "")
	suite.Equal(http.StatusUnauthorized, rec.Code)

	rec, _ = suite.do(http.MethodGet, "/api/v1/admin/audit/42", nil, admin)
	suite.Equal(http.StatusNotFound, rec.Code)

	services := suite.services
	services.Audit = &fakeAuditTrail{logs: []*repository.AuditLog{
		{Service: "orders", Action: "create", EntityID: "42"},
		{Service: "orders", Action: "update", EntityID: "42"},
		{Service: "payments", Action: "create", EntityID: "7"},
	}}
	suite.handler = gateway.NewGateway(&config.ServerConfig{Mode: gin.TestMode}, zap.NewNop(), services).Handler()

	rec, env := suite.do(http.MethodGet, "/api/v1/admin/audit/42?limit=1", nil, admin)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var logs []repository.AuditLog
	suite.Require().NoError(json.Unmarshal(env.Data, &logs))
	suite.Require().Len(logs, 1)
	suite.Equal("create", logs[0].Action)

	rec, _ = suite.do(http.MethodGet, "/api/v1/admin/audit/42?limit=1000", nil, admin)
	suite.Equal(http.StatusUnprocessableEntity, rec.Code)
}

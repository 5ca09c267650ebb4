package service_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type cartServiceSuite struct {
	serviceSuite
	carts *service.CartService
}

func TestCartServiceSuite(t *testing.T) {
	suite.Run(t, new(cartServiceSuite))
}

func (suite *cartServiceSuite) SetupTest() {
	suite.serviceSuite.SetupTest()
	suite.carts = service.NewCartService(suite.deps)
}

func (suite *cartServiceSuite) TestCreateIsIdempotentPerOwner() {
	ctx := suite.T().Context()
	owner := service.CartOwner{IPAddress: gofakeit.IPv4Address()}

	first, err := suite.carts.Create(ctx, owner)
	suite.Require().NoError(err)
	second, err := suite.carts.Create(ctx, owner)
	suite.Require().NoError(err)
	suite.Equal(first.ID, second.ID)

	userCart, err := suite.carts.Create(ctx, service.CartOwner{UserID: uuid.NewString(), IPAddress: owner.IPAddress})
	suite.Require().NoError(err)
	suite.NotEqual(first.ID, userCart.ID)

	got, err := suite.carts.GetByUserOrIP(ctx, owner)
	suite.Require().NoError(err)
	suite.Equal(first.ID, got.ID)

	_, err = suite.carts.GetByUserOrIP(ctx, service.CartOwner{UserID: uuid.NewString()})
	suite.ErrorIs(err, service.ErrNotFound)

	_, err = suite.carts.Create(ctx, service.CartOwner{})
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)
}

func (suite *cartServiceSuite) TestAddItemIncrements() {
	ctx := suite.T().Context()
	cart, err := suite.carts.Create(ctx, service.CartOwner{UserID: uuid.NewString()})
	suite.Require().NoError(err)

	variant := service.CartItemInput{ProductID: uuid.NewString(), ProductVariantID: uuid.NewString(), Quantity: 2}

	cart, err = suite.carts.AddItem(ctx, cart.ID, variant)
	suite.Require().NoError(err)
	suite.Require().Len(cart.Items, 1)

	variant.Quantity = 3
	cart, err = suite.carts.AddItem(ctx, cart.ID, variant)
	suite.Require().NoError(err)
	suite.Require().Len(cart.Items, 1)
	suite.Equal(5, cart.Items[0].Quantity)

	other := service.CartItemInput{ProductID: variant.ProductID, ProductVariantID: uuid.NewString(), Quantity: 1}
	cart, err = suite.carts.AddItem(ctx, cart.ID, other)
	suite.Require().NoError(err)
	suite.Len(cart.Items, 2)

	_, err = suite.carts.AddItem(ctx, uuid.NewString(), other)
	suite.ErrorIs(err, service.ErrNotFound)
}

func (suite *cartServiceSuite) TestRemoveClearDelete() {
	ctx := suite.T().Context()
	cart, err := suite.carts.Create(ctx, service.CartOwner{IPAddress: "10.0.0.1"})
	suite.Require().NoError(err)

	for i := 0; i < 3; i++ {
		cart, err = suite.carts.AddItem(ctx, cart.ID, service.CartItemInput{ProductID: "p", ProductVariantID: uuid.NewString(), Quantity: 1})
		suite.Require().NoError(err)
	}

	suite.Require().NoError(suite.carts.RemoveItem(ctx, cart.Items[0].ID))
	suite.ErrorIs(suite.carts.RemoveItem(ctx, cart.Items[0].ID), service.ErrNotFound)

	suite.Require().NoError(suite.carts.Clear(ctx, cart.ID))
	cart, err = suite.carts.GetByID(ctx, cart.ID)
	suite.Require().NoError(err)
	suite.Empty(cart.Items)

	_, err = suite.carts.AddItem(ctx, cart.ID, service.CartItemInput{ProductID: "p", ProductVariantID: "v", Quantity: 1})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.carts.Delete(ctx, cart.ID))

	var items int64
	suite.Require().NoError(suite.db.Model(&models.CartItem{}).Count(&items).Error)
	suite.Zero(items)
	suite.ErrorIs(suite.carts.Delete(ctx, cart.ID), service.ErrNotFound)
}

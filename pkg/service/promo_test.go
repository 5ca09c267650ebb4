package service_test

import (
	"testing"
	"time"

	"github.com/example/storefront/pkg/service"
	"github.com/stretchr/testify/suite"
)

type promoServiceSuite struct {
	serviceSuite
	promos *service.PromoService
}

func TestPromoServiceSuite(t *testing.T) {
	suite.Run(t, new(promoServiceSuite))
}

func (suite *promoServiceSuite) SetupTest() {
	suite.serviceSuite.SetupTest()
	suite.promos = service.NewPromoService(suite.deps)
}

func (suite *promoServiceSuite) TestPromoCodes() {
	ctx := suite.T().Context()
	now := time.Now().UTC().Truncate(time.Second)

	summer, err := suite.promos.CreatePromoCode(ctx, service.PromoCodeInput{
		Code:            "summer10",
		DiscountPercent: dec("10"),
		ValidFrom:       now.AddDate(0, 0, -1),
		ValidUntil:      now.AddDate(0, 1, 0),
	})
	suite.Require().NoError(err)
	suite.Equal("SUMMER10", summer.Code)
	suite.True(summer.Active)

	_, err = suite.promos.CreatePromoCode(ctx, service.PromoCodeInput{
		Code:            "WINTER25",
		DiscountPercent: dec("25"),
		Active:          ptr(false),
		ValidFrom:       now.AddDate(0, 6, 0),
		ValidUntil:      now.AddDate(0, 7, 0),
	})
	suite.Require().NoError(err)

	_, err = suite.promos.CreatePromoCode(ctx, service.PromoCodeInput{
		Code: "SUMMER10", DiscountPercent: dec("5"), ValidFrom: now, ValidUntil: now.Add(time.Hour),
	})
	suite.ErrorIs(err, service.ErrConflict)

	active, err := suite.promos.ListPromoCodes(ctx, service.PromoCodeFilter{Active: ptr(true)})
	suite.Require().NoError(err)
	suite.Require().Len(active, 1)
	suite.Equal(summer.ID, active[0].ID)

	validNow, err := suite.promos.ListPromoCodes(ctx, service.PromoCodeFilter{ValidOn: ptr(now)})
	suite.Require().NoError(err)
	suite.Require().Len(validNow, 1)
	suite.Equal("SUMMER10", validNow[0].Code)

	contains, err := suite.promos.ListPromoCodes(ctx, service.PromoCodeFilter{CodeContains: "inter"})
	suite.Require().NoError(err)
	suite.Require().Len(contains, 1)
	suite.Equal("WINTER25", contains[0].Code)

	_, err = suite.promos.Redeemable(ctx, "summer10", now)
	suite.NoError(err)
	_, err = suite.promos.Redeemable(ctx, "WINTER25", now)
	suite.ErrorIs(err, service.ErrConflict)
	_, err = suite.promos.Redeemable(ctx, "NOPE", now)
	suite.ErrorIs(err, service.ErrNotFound)

	updated, err := suite.promos.UpdatePromoCode(ctx, summer.ID, service.PromoCodePatch{DiscountPercent: ptr(dec("15"))})
	suite.Require().NoError(err)
	suite.True(dec("15").Equal(updated.DiscountPercent))

	_, err = suite.promos.UpdatePromoCode(ctx, summer.ID, service.PromoCodePatch{ValidUntil: ptr(now.AddDate(0, 0, -2))})
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)

	suite.Require().NoError(suite.promos.DeletePromoCode(ctx, summer.ID))
	_, err = suite.promos.GetPromoCode(ctx, summer.ID)
	suite.ErrorIs(err, service.ErrNotFound)
}

func (suite *promoServiceSuite) TestPromoCodeValidation() {
	now := time.Now()
	tests := []struct {
		name string
		in   service.PromoCodeInput
	}{
		{"zero discount", service.PromoCodeInput{Code: "A", DiscountPercent: dec("0"), ValidFrom: now, ValidUntil: now.Add(time.Hour)}},
		{"over 100", service.PromoCodeInput{Code: "A", DiscountPercent: dec("100.01"), ValidFrom: now, ValidUntil: now.Add(time.Hour)}},
		{"inverted window", service.PromoCodeInput{Code: "A", DiscountPercent: dec("5"), ValidFrom: now, ValidUntil: now}},
		{"blank code", service.PromoCodeInput{Code: " ", DiscountPercent: dec("5"), ValidFrom: now, ValidUntil: now.Add(time.Hour)}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.promos.CreatePromoCode(suite.T().Context(), tt.in)
			var verr *service.ValidationError
			suite.ErrorAs(err, &verr)
		})
	}
}

func (suite *promoServiceSuite) TestCurrencies() {
	ctx := suite.T().Context()

	btc, err := suite.promos.CreateCurrency(ctx, service.CurrencyInput{Code: "btc", Name: "Bitcoin", Symbol: "₿"})
	suite.Require().NoError(err)
	suite.Equal("BTC", btc.Code)

	_, err = suite.promos.CreateCurrency(ctx, service.CurrencyInput{Code: "BTC", Name: "Again"})
	suite.ErrorIs(err, service.ErrConflict)

	_, err = suite.promos.CreateCurrency(ctx, service.CurrencyInput{Code: "ETH", Name: "Ether"})
	suite.Require().NoError(err)

	list, err := suite.promos.ListCurrencies(ctx, service.NameFilter{Name: "bit"})
	suite.Require().NoError(err)
	suite.Require().Len(list, 1)
	suite.Equal(btc.ID, list[0].ID)

	updated, err := suite.promos.UpdateCurrency(ctx, btc.ID, service.CurrencyPatch{Name: ptr("Bitcoin Core")})
	suite.Require().NoError(err)
	suite.Equal("Bitcoin Core", updated.Name)

	_, err = suite.promos.UpdateCurrency(ctx, btc.ID, service.CurrencyPatch{Code: ptr("eth")})
	suite.ErrorIs(err, service.ErrConflict)

	suite.Require().NoError(suite.promos.DeleteCurrency(ctx, btc.ID))
	suite.ErrorIs(suite.promos.DeleteCurrency(ctx, btc.ID), service.ErrNotFound)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PromoCodeInput struct {
	Code            string          `json:"code" binding:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          *bool           `json:"active"`
	ValidFrom       time.Time       `json:"valid_from" binding:"required"`
	ValidUntil      time.Time       `json:"valid_until" binding:"required"`
}

type PromoCodePatch struct {
	Code            *string          `json:"code"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
	Active          *bool            `json:"active"`
	ValidFrom       *time.Time       `json:"valid_from"`
	ValidUntil      *time.Time       `json:"valid_until"`
}

type PromoCodeFilter struct {
	Active       *bool      `form:"active"`
	ValidOn      *time.Time `form:"valid_on" time_format:"2006-01-02T15:04:05Z07:00"`
	CodeContains string     `form:"code_contains"`
	Pagination
}

type CurrencyInput struct {
	Code   string `json:"code" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Symbol string `json:"symbol"`
}

type CurrencyPatch struct {
	Code   *string `json:"code"`
	Name   *string `json:"name"`
	Symbol *string `json:"symbol"`
}

var hundred = decimal.NewFromInt(100)

// PromoService manages promo codes and the registered currency list.
type PromoService struct {
	Deps
}

func NewPromoService(deps Deps) *PromoService {
	return &PromoService{Deps: deps}
}

func validatePromo(code string, discount decimal.Decimal, from, until time.Time) error {
	var v validation
	if strings.TrimSpace(code) == "" {
		v.add("code is required", "code")
	}
	if !discount.IsPositive() || discount.GreaterThan(hundred) {
		v.add("discount_percent must be greater than 0 and at most 100", "discount_percent")
	}
	if !until.After(from) {
		v.add("valid_until must be after valid_from", "valid_until")
	}
	return v.err()
}

func (s *PromoService) CreatePromoCode(ctx context.Context, in PromoCodeInput) (*models.PromoCode, error) {
	if err := validatePromo(in.Code, in.DiscountPercent, in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}

	promo := &models.PromoCode{
		ID:              uuid.NewString(),
		Code:            strings.ToUpper(strings.TrimSpace(in.Code)),
		DiscountPercent: in.DiscountPercent.Round(2),
		Active:          in.Active == nil || *in.Active,
		ValidFrom:       in.ValidFrom.UTC(),
		ValidUntil:      in.ValidUntil.UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(promo).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, conflictf("Promo code %s already exists.", promo.Code)
		}
		return nil, fmt.Errorf("insert promo code: %w", err)
	}
	return promo, nil
}

func (s *PromoService) GetPromoCode(ctx context.Context, id string) (*models.PromoCode, error) {
	var promo models.PromoCode
	if err := s.DB.WithContext(ctx).First(&promo, "id = ?", id).Error; err != nil {
		return nil, translate(err, "promo code")
	}
	return &promo, nil
}

// Redeemable looks a code up and checks that it is usable at t.
func (s *PromoService) Redeemable(ctx context.Context, code string, t time.Time) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := s.DB.WithContext(ctx).First(&promo, "code = ?", strings.ToUpper(strings.TrimSpace(code))).Error
	if err != nil {
		return nil, translate(err, "promo code")
	}
	if !promo.ValidOn(t.UTC()) {
		return nil, conflictf("Promo code %s is not valid at this time.", promo.Code)
	}
	return &promo, nil
}

func (s *PromoService) ListPromoCodes(ctx context.Context, filter PromoCodeFilter) ([]models.PromoCode, error) {
	q := s.DB.WithContext(ctx).Model(&models.PromoCode{})
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}
	if filter.ValidOn != nil {
		t := filter.ValidOn.UTC()
		q = q.Where("valid_from <= ? AND valid_until >= ?", t, t)
	}
	if filter.CodeContains != "" {
		q = q.Where("code LIKE ?", like(strings.ToUpper(filter.CodeContains)))
	}

	promos := []models.PromoCode{}
	if err := filter.Pagination.apply(q).Order("valid_from DESC, code").Find(&promos).Error; err != nil {
		return nil, fmt.Errorf("list promo codes: %w", err)
	}
	return promos, nil
}

func (s *PromoService) UpdatePromoCode(ctx context.Context, id string, patch PromoCodePatch) (*models.PromoCode, error) {
	return repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.PromoCode, error) {
		var promo models.PromoCode
		if err := tx.First(&promo, "id = ?", id).Error; err != nil {
			return nil, translate(err, "promo code")
		}

		if patch.Code != nil {
			promo.Code = strings.ToUpper(strings.TrimSpace(*patch.Code))
		}
		if patch.DiscountPercent != nil {
			promo.DiscountPercent = patch.DiscountPercent.Round(2)
		}
		if patch.Active != nil {
			promo.Active = *patch.Active
		}
		if patch.ValidFrom != nil {
			promo.ValidFrom = patch.ValidFrom.UTC()
		}
		if patch.ValidUntil != nil {
			promo.ValidUntil = patch.ValidUntil.UTC()
		}
		if err := validatePromo(promo.Code, promo.DiscountPercent, promo.ValidFrom, promo.ValidUntil); err != nil {
			return nil, err
		}

		if err := tx.Save(&promo).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, conflictf("Promo code %s already exists.", promo.Code)
			}
			return nil, fmt.Errorf("update promo code: %w", err)
		}
		return &promo, nil
	})
}

func (s *PromoService) DeletePromoCode(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&models.PromoCode{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete promo code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("promo code")
	}
	return nil
}

// Currencies.

func currencyCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > 10 {
		return "", invalid("code must be between 1 and 10 characters", "code")
	}
	return code, nil
}

func (s *PromoService) CreateCurrency(ctx context.Context, in CurrencyInput) (*models.Currency, error) {
	code, err := currencyCode(in.Code)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name is required", "name")
	}

	c := &models.Currency{
		ID:     uuid.NewString(),
		Code:   code,
		Name:   strings.TrimSpace(in.Name),
		Symbol: in.Symbol,
	}
	if err := s.DB.WithContext(ctx).Create(c).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, conflictf("Currency %s already exists.", code)
		}
		return nil, fmt.Errorf("insert currency: %w", err)
	}
	return c, nil
}

func (s *PromoService) GetCurrency(ctx context.Context, id string) (*models.Currency, error) {
	var c models.Currency
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err, "currency")
	}
	return &c, nil
}

func (s *PromoService) ListCurrencies(ctx context.Context, filter NameFilter) ([]models.Currency, error) {
	q := s.DB.WithContext(ctx).Model(&models.Currency{})
	if filter.Name != "" {
		q = q.Where("name LIKE ? OR code LIKE ?", like(filter.Name), like(strings.ToUpper(filter.Name)))
	}

	currencies := []models.Currency{}
	if err := filter.Pagination.apply(q).Order("code").Find(&currencies).Error; err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	return currencies, nil
}

func (s *PromoService) UpdateCurrency(ctx context.Context, id string, patch CurrencyPatch) (*models.Currency, error) {
	updates := map[string]interface{}{}
	if patch.Code != nil {
		code, err := currencyCode(*patch.Code)
		if err != nil {
			return nil, err
		}
		updates["code"] = code
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, invalid("name must not be empty", "name")
		}
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Symbol != nil {
		updates["symbol"] = *patch.Symbol
	}

	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.Currency{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if repository.IsDuplicateKey(res.Error) {
				return nil, conflictf("Currency %v already exists.", updates["code"])
			}
			return nil, fmt.Errorf("update currency: %w", res.Error)
		}
	}
	return s.GetCurrency(ctx, id)
}

func (s *PromoService) DeleteCurrency(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&models.Currency{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete currency: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("currency")
	}
	return nil
}

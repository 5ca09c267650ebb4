package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionStore keeps refresh tokens, one-time codes and cached users. It is
// implemented by *repository.RedisRepository.
type SessionStore interface {
	StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	RefreshToken(ctx context.Context, userID string) (string, error)
	DeleteRefreshToken(ctx context.Context, userID string) error

	StoreOTP(ctx context.Context, purpose repository.OTPPurpose, email, code string, ttl time.Duration) error
	OTP(ctx context.Context, purpose repository.OTPPurpose, email string) (string, error)
	DeleteOTP(ctx context.Context, purpose repository.OTPPurpose, email string) error
	CountOTPAttempt(ctx context.Context, purpose repository.OTPPurpose, email string, ttl time.Duration) (int64, error)
	ResetOTPAttempts(ctx context.Context, purpose repository.OTPPurpose, email string) error

	CacheUser(ctx context.Context, user *repository.UserCache) error
	GetUserCache(ctx context.Context, userID string) (*repository.UserCache, error)
	InvalidateUser(ctx context.Context, userID string) error
}

const (
	minPasswordLength = 8
	// maxOTPAttempts is the number of guesses allowed per purpose and email
	// within one code lifetime.
	maxOTPAttempts = 5
)

const errBadCredentials = "Invalid email or password."

type AddressInput struct {
	Street   string             `json:"street" binding:"required"`
	City     string             `json:"city" binding:"required"`
	State    string             `json:"state"`
	Country  string             `json:"country" binding:"required"`
	PostCode string             `json:"post_code"`
	Kind     models.AddressKind `json:"kind" binding:"required"`
}

type RegisterInput struct {
	Firstname string         `json:"firstname" binding:"required"`
	Lastname  string         `json:"lastname"`
	Email     string         `json:"email" binding:"required,email"`
	Phone     *string        `json:"phone"`
	Password  string         `json:"password" binding:"required,min=8"`
	Telegram  *string        `json:"telegram"`
	WhatsApp  *string        `json:"whatsapp"`
	Age       *int           `json:"age" binding:"omitempty,gte=0"`
	Gender    *string        `json:"gender"`
	Addresses []AddressInput `json:"addresses" binding:"dive"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type ProfilePatch struct {
	Firstname *string `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Phone     *string `json:"phone"`
	Telegram  *string `json:"telegram"`
	WhatsApp  *string `json:"whatsapp"`
	Age       *int    `json:"age" binding:"omitempty,gte=0"`
	Gender    *string `json:"gender"`
	Picture   *string `json:"picture"`
}

type UserFilter struct {
	Email  string `form:"email"`
	Role   string `form:"role"`
	Active *bool  `form:"active"`
	Pagination
}

type PasswordResetInput struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

type UserService struct {
	Deps
	sessions SessionStore
	tokens   *auth.TokenManager
	otpTTL   time.Duration
	logger   *zap.Logger
}

func NewUserService(deps Deps, sessions SessionStore, tokens *auth.TokenManager, otpTTL time.Duration) *UserService {
	return &UserService{
		Deps:     deps,
		sessions: sessions,
		tokens:   tokens,
		otpTTL:   otpTTL,
		logger:   deps.named("user-service"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateAddress(in AddressInput, location ...string) (models.AddressKind, error) {
	var v validation
	at := func(field string) []string { return append(append([]string{}, location...), field) }

	if strings.TrimSpace(in.Street) == "" {
		v.add("street is required", at("street")...)
	}
	if strings.TrimSpace(in.City) == "" {
		v.add("city is required", at("city")...)
	}
	if strings.TrimSpace(in.Country) == "" {
		v.add("country is required", at("country")...)
	}
	kind, err := models.ToAddressKind(string(in.Kind))
	if err != nil {
		v.add(err.Error(), at("kind")...)
	}
	return kind, v.err()
}

func newAddress(userID string, kind models.AddressKind, in AddressInput) models.Address {
	return models.Address{
		ID:       uuid.NewString(),
		UserID:   userID,
		Street:   in.Street,
		City:     in.City,
		State:    in.State,
		Country:  in.Country,
		PostCode: in.PostCode,
		Kind:     kind,
	}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)

	var v validation
	if strings.TrimSpace(in.Firstname) == "" {
		v.add("firstname is required", "firstname")
	}
	if !strings.Contains(email, "@") {
		v.add("email is invalid", "email")
	}
	if len(in.Password) < minPasswordLength {
		v.add(fmt.Sprintf("password must be at least %d characters", minPasswordLength), "password")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	kinds := make([]models.AddressKind, len(in.Addresses))
	for i, a := range in.Addresses {
		kind, err := validateAddress(a, "addresses", fmt.Sprint(i))
		if err != nil {
			return nil, err
		}
		kinds[i] = kind
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.User, error) {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, conflictf("Email already registered.")
		}
		if in.Phone != nil {
			if err := tx.Model(&models.User{}).Where("phone = ?", *in.Phone).Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, conflictf("Phone number already registered.")
			}
		}

		user := &models.User{
			ID:           uuid.NewString(),
			Firstname:    strings.TrimSpace(in.Firstname),
			Lastname:     strings.TrimSpace(in.Lastname),
			Email:        email,
			Phone:        in.Phone,
			PasswordHash: hash,
			Role:         models.RoleCustomer,
			Active:       true,
			Telegram:     in.Telegram,
			WhatsApp:     in.WhatsApp,
			Age:          in.Age,
			Gender:       in.Gender,
			Addresses:    []models.Address{},
		}
		for i, a := range in.Addresses {
			user.Addresses = append(user.Addresses, newAddress(user.ID, kinds[i], a))
		}

		if err := tx.Create(user).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, conflictf("Email or phone number already registered.")
			}
			return nil, fmt.Errorf("insert user: %w", err)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	s.sendCode(ctx, user, repository.OTPEmailVerification, notify.KindActivation)
	s.audit("user-service", "register", user.ID, bson.M{"email": user.Email})
	s.logger.Info("User registered", zap.String("user_id", user.ID))
	return user, nil
}

// sendCode stores a fresh one-time code and mails it. Failures are logged only.
func (s *UserService) sendCode(ctx context.Context, user *models.User, purpose repository.OTPPurpose, kind notify.Kind) {
	code, err := auth.GenerateOTP()
	if err != nil {
		s.logger.Error("Failed to generate otp", zap.Error(err))
		return
	}
	if err := s.sessions.StoreOTP(ctx, purpose, user.Email, code, s.otpTTL); err != nil {
		s.logger.Error("Failed to store otp", zap.String("purpose", string(purpose)), zap.Error(err))
		return
	}

	n, err := notify.Render(notify.ChannelEmail, kind, user.Email, map[string]any{
		"Name": user.FullName(),
		"Code": code,
	})
	if err != nil {
		s.logger.Error("Failed to render notification", zap.Error(err))
		return
	}
	s.notify(n)
}

// checkCode compares code with the stored one and consumes it on success.
// Once the attempt limit is reached the stored code is discarded.
func (s *UserService) checkCode(ctx context.Context, purpose repository.OTPPurpose, email, code string) error {
	attempts, err := s.sessions.CountOTPAttempt(ctx, purpose, email, s.otpTTL)
	if err != nil {
		return fmt.Errorf("count otp attempt: %w", err)
	}
	if attempts > maxOTPAttempts {
		if err := s.sessions.DeleteOTP(ctx, purpose, email); err != nil {
			s.logger.Warn("Failed to discard otp", zap.String("purpose", string(purpose)), zap.Error(err))
		}
		return tooManyTries("Too many attempts, request a new code later.")
	}

	stored, err := s.sessions.OTP(ctx, purpose, email)
	if errors.Is(err, repository.ErrCacheMiss) || (err == nil && subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1) {
		return invalid("Invalid or expired code.", "code")
	}
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteOTP(ctx, purpose, email); err != nil {
		return err
	}
	return s.sessions.ResetOTPAttempts(ctx, purpose, email)
}

func (s *UserService) issue(ctx context.Context, user *models.User) (*TokenPair, error) {
	access, err := s.tokens.Issue(user.ID, user.Email, string(user.Role), auth.TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(user.ID, user.Email, string(user.Role), auth.TokenRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.StoreRefreshToken(ctx, user.ID, refresh, s.tokens.RefreshTTL()); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *UserService) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "email = ?", normalizeEmail(in.Email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unauthorized(errBadCredentials)
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.Password) {
		return nil, unauthorized(errBadCredentials)
	}
	if !user.Active {
		return nil, forbidden("Account is deactivated.")
	}

	pair, err := s.issue(ctx, &user)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, &user)
	s.audit("user-service", "login", user.ID, nil)
	return pair, nil
}

// Refresh rotates the session. The presented token must be the one stored for the user.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, unauthorized("Invalid refresh token.")
	}

	stored, err := s.sessions.RefreshToken(ctx, claims.Subject)
	if errors.Is(err, repository.ErrCacheMiss) || (err == nil && stored != refreshToken) {
		return nil, unauthorized("Refresh token has been revoked.")
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("Invalid refresh token.")
		}
		return nil, err
	}
	if !user.Active {
		return nil, forbidden("Account is deactivated.")
	}
	return s.issue(ctx, &user)
}

func (s *UserService) Logout(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	s.uncache(ctx, userID)
	return nil
}

func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	if err := s.checkCode(ctx, repository.OTPEmailVerification, email, code); err != nil {
		return err
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return translate(err, "user")
	}
	if err := s.DB.WithContext(ctx).Model(&user).Update("verified", true).Error; err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	s.uncache(ctx, user.ID)
	return nil
}

// ResendVerification issues a new email verification code for an unverified user.
func (s *UserService) ResendVerification(ctx context.Context, email string) error {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error; err != nil {
		return translate(err, "user")
	}
	if user.Verified {
		return conflictf("Email is already verified.")
	}
	s.sendCode(ctx, &user, repository.OTPEmailVerification, notify.KindActivation)
	return nil
}

// RequestPasswordReset never reveals whether the email is registered.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.sendCode(ctx, &user, repository.OTPPasswordReset, notify.KindPasswordReset)
	return nil
}

func (s *UserService) ConfirmPasswordReset(ctx context.Context, in PasswordResetInput) error {
	email := normalizeEmail(in.Email)
	if len(in.NewPassword) < minPasswordLength {
		return invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLength), "new_password")
	}
	if err := s.checkCode(ctx, repository.OTPPasswordReset, email, in.Code); err != nil {
		return err
	}

	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return translate(err, "user")
	}
	if err := s.DB.WithContext(ctx).Model(&user).Update("password_hash", hash).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.sessions.DeleteRefreshToken(ctx, user.ID); err != nil {
		s.logger.Warn("Failed to revoke refresh token", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.audit("user-service", "password_reset", user.ID, nil)
	return nil
}

// Authenticate resolves an access token to the cached user.
func (s *UserService) Authenticate(ctx context.Context, accessToken string) (*repository.UserCache, error) {
	claims, err := s.tokens.Parse(accessToken, auth.TokenAccess)
	if err != nil {
		return nil, unauthorized("Could not validate credentials.")
	}

	cached, err := s.sessions.GetUserCache(ctx, claims.Subject)
	if err == nil {
		if !cached.Active {
			return nil, forbidden("Account is deactivated.")
		}
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("User cache unavailable", zap.Error(err))
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("Could not validate credentials.")
		}
		return nil, err
	}
	if !user.Active {
		return nil, forbidden("Account is deactivated.")
	}
	return s.cache(ctx, &user), nil
}

func (s *UserService) cache(ctx context.Context, user *models.User) *repository.UserCache {
	entry := &repository.UserCache{
		ID:        user.ID,
		Firstname: user.Firstname,
		Lastname:  user.Lastname,
		Email:     user.Email,
		Role:      string(user.Role),
		Active:    user.Active,
		Verified:  user.Verified,
	}
	if user.Phone != nil {
		entry.Phone = *user.Phone
	}
	if err := s.sessions.CacheUser(ctx, entry); err != nil {
		s.logger.Warn("Failed to cache user", zap.String("user_id", user.ID), zap.Error(err))
	}
	return entry
}

func (s *UserService) uncache(ctx context.Context, userID string) {
	if err := s.sessions.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate user cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Preload("Addresses").First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (s *UserService) List(ctx context.Context, filter UserFilter) ([]models.User, error) {
	q := s.DB.WithContext(ctx).Model(&models.User{})
	if filter.Email != "" {
		q = q.Where("email LIKE ?", like(normalizeEmail(filter.Email)))
	}
	if filter.Role != "" {
		role, err := models.ToRole(filter.Role)
		if err != nil {
			return nil, invalid(err.Error(), "query", "role")
		}
		q = q.Where("role = ?", role)
	}
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}

	var users []models.User
	if err := filter.Pagination.apply(q).Preload("Addresses").Order("created_at DESC, id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*models.User, error) {
	updates := map[string]interface{}{}
	if patch.Firstname != nil {
		if strings.TrimSpace(*patch.Firstname) == "" {
			return nil, invalid("firstname must not be empty", "firstname")
		}
		updates["firstname"] = strings.TrimSpace(*patch.Firstname)
	}
	if patch.Lastname != nil {
		updates["lastname"] = strings.TrimSpace(*patch.Lastname)
	}
	if patch.Phone != nil {
		updates["phone"] = *patch.Phone
	}
	if patch.Telegram != nil {
		updates["telegram"] = *patch.Telegram
	}
	if patch.WhatsApp != nil {
		updates["whats_app"] = *patch.WhatsApp
	}
	if patch.Age != nil {
		updates["age"] = *patch.Age
	}
	if patch.Gender != nil {
		updates["gender"] = *patch.Gender
	}
	if patch.Picture != nil {
		updates["picture"] = *patch.Picture
	}

	if err := s.update(ctx, id, updates); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *UserService) update(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return mustExistErr(s.DB.WithContext(ctx), &models.User{}, id, "user")
	}

	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if repository.IsDuplicateKey(res.Error) {
			return conflictf("Phone number already registered.")
		}
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("user")
	}
	s.uncache(ctx, id)
	return nil
}

func mustExistErr(tx *gorm.DB, model any, id any, entity string) error {
	return translate(mustExist(tx, model, id), entity)
}

func (s *UserService) SetRole(ctx context.Context, id string, role models.Role) (*models.User, error) {
	r, err := models.ToRole(string(role))
	if err != nil {
		return nil, invalid(err.Error(), "role")
	}
	if err := s.update(ctx, id, map[string]interface{}{"role": r}); err != nil {
		return nil, err
	}
	s.audit("user-service", "set_role", id, bson.M{"role": string(r)})
	return s.Get(ctx, id)
}

// SetActive toggles the account. Deactivation also ends the current session.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) (*models.User, error) {
	if err := s.update(ctx, id, map[string]interface{}{"active": active}); err != nil {
		return nil, err
	}
	if !active {
		if err := s.sessions.DeleteRefreshToken(ctx, id); err != nil {
			s.logger.Warn("Failed to revoke refresh token", zap.String("user_id", id), zap.Error(err))
		}
	}
	s.audit("user-service", "set_active", id, bson.M{"active": active})
	return s.Get(ctx, id)
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		if err := tx.Where("user_id = ?", id).Delete(&models.Address{}).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete addresses: %w", err)
		}
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return struct{}{}, fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return struct{}{}, notFound("user")
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteRefreshToken(ctx, id); err != nil {
		s.logger.Warn("Failed to revoke refresh token", zap.String("user_id", id), zap.Error(err))
	}
	s.uncache(ctx, id)
	s.audit("user-service", "delete_user", id, nil)
	return nil
}

// Addresses.

func (s *UserService) AddAddress(ctx context.Context, userID string, in AddressInput) (*models.Address, error) {
	kind, err := validateAddress(in)
	if err != nil {
		return nil, err
	}

	return repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Address, error) {
		if err := mustExistErr(tx, &models.User{}, userID, "user"); err != nil {
			return nil, err
		}
		addr := newAddress(userID, kind, in)
		if err := tx.Create(&addr).Error; err != nil {
			return nil, fmt.Errorf("insert address: %w", err)
		}
		return &addr, nil
	})
}

func (s *UserService) ListAddresses(ctx context.Context, userID string) ([]models.Address, error) {
	addresses := []models.Address{}
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&addresses).Error; err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return addresses, nil
}

// UpdateAddress replaces every field of an address owned by userID.
func (s *UserService) UpdateAddress(ctx context.Context, userID, addressID string, in AddressInput) (*models.Address, error) {
	kind, err := validateAddress(in)
	if err != nil {
		return nil, err
	}

	res := s.DB.WithContext(ctx).Model(&models.Address{}).
		Where("id = ? AND user_id = ?", addressID, userID).
		Updates(map[string]interface{}{
			"street":    in.Street,
			"city":      in.City,
			"state":     in.State,
			"country":   in.Country,
			"post_code": in.PostCode,
			"kind":      kind,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update address: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFound("address")
	}

	var addr models.Address
	if err := s.DB.WithContext(ctx).First(&addr, "id = ?", addressID).Error; err != nil {
		return nil, translate(err, "address")
	}
	return &addr, nil
}

func (s *UserService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", addressID, userID).Delete(&models.Address{})
	if res.Error != nil {
		return fmt.Errorf("delete address: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("address")
	}
	return nil
}

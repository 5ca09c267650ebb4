package service_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/suite"
)

const testPassword = "correct-horse-battery"

type userServiceSuite struct {
	serviceSuite
	redis  *miniredis.Miniredis
	tokens *auth.TokenManager
	users  *service.UserService
}

func TestUserServiceSuite(t *testing.T) {
	suite.Run(t, new(userServiceSuite))
}

func (suite *userServiceSuite) SetupTest() {
	suite.serviceSuite.SetupTest()

	suite.redis = miniredis.RunT(suite.T())
	sessions := repository.NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{Addr: suite.redis.Addr()}))
	suite.tokens = auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	suite.users = service.NewUserService(suite.deps, sessions, suite.tokens, 10*time.Minute)
}

func (suite *userServiceSuite) register() (*models.User, service.RegisterInput) {
	in := service.RegisterInput{
		Firstname: gofakeit.FirstName(),
		Lastname:  gofakeit.LastName(),
		Email:     gofakeit.Email(),
		Password:  testPassword,
		Addresses: []service.AddressInput{{
			Street:  gofakeit.Street(),
			City:    gofakeit.City(),
			Country: gofakeit.Country(),
			Kind:    models.AddressKindShipping,
		}},
	}
	user, err := suite.users.Register(suite.T().Context(), in)
	suite.Require().NoError(err)
	return user, in
}

func (suite *userServiceSuite) otp(purpose repository.OTPPurpose, email string) string {
	code, err := suite.redis.Get(string(purpose) + ":" + email)
	suite.Require().NoError(err)
	return code
}

func (suite *userServiceSuite) TestRegister() {
	user, in := suite.register()

	suite.Equal(models.RoleCustomer, user.Role)
	suite.True(user.Active)
	suite.False(user.Verified)
	suite.Len(user.Addresses, 1)
	suite.True(auth.CheckPassword(user.PasswordHash, testPassword))

	n, ok := suite.notifier.last()
	suite.Require().True(ok)
	suite.Equal(notify.KindActivation, n.Kind)
	suite.Equal(user.Email, n.Recipient)
	suite.Contains(n.Body, suite.otp(repository.OTPEmailVerification, user.Email))

	_, err := suite.users.Register(suite.T().Context(), in)
	suite.ErrorIs(err, service.ErrConflict)
}

func (suite *userServiceSuite) TestRegisterValidation() {
	tests := []struct {
		name string
		in   service.RegisterInput
	}{
		{"short password", service.RegisterInput{Firstname: "A", Email: "a@b.c", Password: "short"}},
		{"missing firstname", service.RegisterInput{Email: "a@b.c", Password: testPassword}},
		{"bad email", service.RegisterInput{Firstname: "A", Email: "nope", Password: testPassword}},
		{"bad address kind", service.RegisterInput{
			Firstname: "A", Email: "a@b.c", Password: testPassword,
			Addresses: []service.AddressInput{{Street: "s", City: "c", Country: "x", Kind: "Home"}},
		}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.users.Register(suite.T().Context(), tt.in)
			var verr *service.ValidationError
			suite.ErrorAs(err, &verr)
		})
	}
}

func (suite *userServiceSuite) TestLoginRefreshLogout() {
	ctx := suite.T().Context()
	user, in := suite.register()

	_, err := suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: "wrong-password"})
	suite.ErrorIs(err, service.ErrUnauthorized)
	_, err = suite.users.Login(ctx, service.LoginInput{Email: "nobody@example.com", Password: testPassword})
	suite.ErrorIs(err, service.ErrUnauthorized)

	pair, err := suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: testPassword})
	suite.Require().NoError(err)
	suite.Equal("bearer", pair.TokenType)

	cached, err := suite.users.Authenticate(ctx, pair.AccessToken)
	suite.Require().NoError(err)
	suite.Equal(user.ID, cached.ID)
	suite.Equal(string(models.RoleCustomer), cached.Role)

	_, err = suite.users.Authenticate(ctx, pair.RefreshToken)
	suite.ErrorIs(err, service.ErrUnauthorized)

	rotated, err := suite.users.Refresh(ctx, pair.RefreshToken)
	suite.Require().NoError(err)
	suite.NotEqual(pair.RefreshToken, rotated.RefreshToken)

	_, err = suite.users.Refresh(ctx, pair.RefreshToken)
	suite.ErrorIs(err, service.ErrUnauthorized)

	suite.Require().NoError(suite.users.Logout(ctx, user.ID))
	_, err = suite.users.Refresh(ctx, rotated.RefreshToken)
	suite.ErrorIs(err, service.ErrUnauthorized)
}

func (suite *userServiceSuite) TestDeactivatedUser() {
	ctx := suite.T().Context()
	user, in := suite.register()

	pair, err := suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: testPassword})
	suite.Require().NoError(err)

	_, err = suite.users.SetActive(ctx, user.ID, false)
	suite.Require().NoError(err)

	_, err = suite.users.Authenticate(ctx, pair.AccessToken)
	suite.ErrorIs(err, service.ErrForbidden)
	_, err = suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: testPassword})
	suite.ErrorIs(err, service.ErrForbidden)
	_, err = suite.users.Refresh(ctx, pair.RefreshToken)
	suite.ErrorIs(err, service.ErrUnauthorized)
}

func (suite *userServiceSuite) TestVerifyEmail() {
	ctx := suite.T().Context()
	user, _ := suite.register()

	err := suite.users.VerifyEmail(ctx, user.Email, "000000x")
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)

	suite.Require().NoError(suite.users.VerifyEmail(ctx, user.Email, suite.otp(repository.OTPEmailVerification, user.Email)))
	suite.False(suite.redis.Exists(string(repository.OTPEmailVerification) + ":" + user.Email))

	got, err := suite.users.Get(ctx, user.ID)
	suite.Require().NoError(err)
	suite.True(got.Verified)

	suite.ErrorIs(suite.users.ResendVerification(ctx, user.Email), service.ErrConflict)
}

func (suite *userServiceSuite) TestVerifyEmailAttemptLimit() {
	ctx := suite.T().Context()
	user, _ := suite.register()
	code := suite.otp(repository.OTPEmailVerification, user.Email)

	for i := 0; i < 5; i++ {
		err := suite.users.VerifyEmail(ctx, user.Email, "wrong!")
		var verr *service.ValidationError
		suite.Require().ErrorAs(err, &verr)
	}

	// the right code no longer helps once the limit is hit
	suite.ErrorIs(suite.users.VerifyEmail(ctx, user.Email, code), service.ErrTooManyTries)
	suite.False(suite.redis.Exists(string(repository.OTPEmailVerification) + ":" + user.Email))

	suite.redis.FastForward(11 * time.Minute)
	suite.Require().NoError(suite.users.ResendVerification(ctx, user.Email))
	suite.Require().NoError(suite.users.VerifyEmail(ctx, user.Email, suite.otp(repository.OTPEmailVerification, user.Email)))
	suite.False(suite.redis.Exists("otp_attempts:" + string(repository.OTPEmailVerification) + ":" + user.Email))
}

func (suite *userServiceSuite) TestPasswordReset() {
	ctx := suite.T().Context()
	user, in := suite.register()

	suite.Require().NoError(suite.users.RequestPasswordReset(ctx, "unknown@example.com"))
	suite.Require().NoError(suite.users.RequestPasswordReset(ctx, user.Email))

	n, ok := suite.notifier.last()
	suite.Require().True(ok)
	suite.Equal(notify.KindPasswordReset, n.Kind)

	code := suite.otp(repository.OTPPasswordReset, user.Email)
	err := suite.users.ConfirmPasswordReset(ctx, service.PasswordResetInput{Email: user.Email, Code: code, NewPassword: "another-secret"})
	suite.Require().NoError(err)

	_, err = suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: testPassword})
	suite.ErrorIs(err, service.ErrUnauthorized)
	_, err = suite.users.Login(ctx, service.LoginInput{Email: in.Email, Password: "another-secret"})
	suite.NoError(err)

	err = suite.users.ConfirmPasswordReset(ctx, service.PasswordResetInput{Email: user.Email, Code: code, NewPassword: "third-secret"})
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)
}

func (suite *userServiceSuite) TestProfileAndRole() {
	ctx := suite.T().Context()
	user, _ := suite.register()

	updated, err := suite.users.UpdateProfile(ctx, user.ID, service.ProfilePatch{
		Firstname: ptr("Ada"),
		Age:       ptr(36),
		WhatsApp:  ptr("+15550100"),
	})
	suite.Require().NoError(err)
	suite.Equal("Ada", updated.Firstname)
	suite.Equal(36, *updated.Age)
	suite.Equal("+15550100", *updated.WhatsApp)

	_, err = suite.users.UpdateProfile(ctx, "missing", service.ProfilePatch{Firstname: ptr("x")})
	suite.ErrorIs(err, service.ErrNotFound)

	admin, err := suite.users.SetRole(ctx, user.ID, models.RoleAdmin)
	suite.Require().NoError(err)
	suite.Equal(models.RoleAdmin, admin.Role)

	_, err = suite.users.SetRole(ctx, user.ID, "Emperor")
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)

	admins, err := suite.users.List(ctx, service.UserFilter{Role: string(models.RoleAdmin)})
	suite.Require().NoError(err)
	suite.Require().Len(admins, 1)
	suite.Equal(user.ID, admins[0].ID)
}

func (suite *userServiceSuite) TestAddressesAndDelete() {
	ctx := suite.T().Context()
	user, _ := suite.register()

	addr, err := suite.users.AddAddress(ctx, user.ID, service.AddressInput{
		Street: "1 Main St", City: "Springfield", Country: "US", Kind: models.AddressKindBilling,
	})
	suite.Require().NoError(err)

	addresses, err := suite.users.ListAddresses(ctx, user.ID)
	suite.Require().NoError(err)
	suite.Len(addresses, 2)

	updated, err := suite.users.UpdateAddress(ctx, user.ID, addr.ID, service.AddressInput{
		Street: "2 Main St", City: "Springfield", Country: "US", Kind: models.AddressKindShipping,
	})
	suite.Require().NoError(err)
	suite.Equal("2 Main St", updated.Street)
	suite.Equal(models.AddressKindShipping, updated.Kind)

	_, err = suite.users.UpdateAddress(ctx, "someone-else", addr.ID, service.AddressInput{
		Street: "x", City: "y", Country: "z", Kind: models.AddressKindBilling,
	})
	suite.ErrorIs(err, service.ErrNotFound)

	suite.Require().NoError(suite.users.DeleteAddress(ctx, user.ID, addr.ID))
	suite.ErrorIs(suite.users.DeleteAddress(ctx, user.ID, addr.ID), service.ErrNotFound)

	_, err = suite.users.AddAddress(ctx, "missing", service.AddressInput{
		Street: "x", City: "y", Country: "z", Kind: models.AddressKindBilling,
	})
	suite.ErrorIs(err, service.ErrNotFound)

	suite.Require().NoError(suite.users.Delete(ctx, user.ID))
	var count int64
	suite.Require().NoError(suite.db.Model(&models.Address{}).Count(&count).Error)
	suite.Zero(count)
	suite.ErrorIs(suite.users.Delete(ctx, user.ID), service.ErrNotFound)
}

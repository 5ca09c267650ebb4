package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/go-redis/redis/v8"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}))
}

func NewRedisRepositoryFromClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisRepository) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Refresh tokens, one per user. Storing a new one revokes the previous session.

func refreshTokenKey(userID string) string {
	return fmt.Sprintf("refresh_token:%s", userID)
}

func (r *RedisRepository) StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	return r.Set(ctx, refreshTokenKey(userID), token, ttl)
}

func (r *RedisRepository) RefreshToken(ctx context.Context, userID string) (string, error) {
	return r.Get(ctx, refreshTokenKey(userID))
}

func (r *RedisRepository) DeleteRefreshToken(ctx context.Context, userID string) error {
	return r.Del(ctx, refreshTokenKey(userID))
}

// OTPPurpose namespaces one-time codes.
type OTPPurpose string

const (
	OTPEmailVerification OTPPurpose = "email_otp"
	OTPPasswordReset     OTPPurpose = "password_reset_otp"
)

func otpKey(purpose OTPPurpose, email string) string {
	return fmt.Sprintf("%s:%s", purpose, email)
}

func (r *RedisRepository) StoreOTP(ctx context.Context, purpose OTPPurpose, email, code string, ttl time.Duration) error {
	return r.Set(ctx, otpKey(purpose, email), code, ttl)
}

func (r *RedisRepository) OTP(ctx context.Context, purpose OTPPurpose, email string) (string, error) {
	return r.Get(ctx, otpKey(purpose, email))
}

func (r *RedisRepository) DeleteOTP(ctx context.Context, purpose OTPPurpose, email string) error {
	return r.Del(ctx, otpKey(purpose, email))
}

func otpAttemptsKey(purpose OTPPurpose, email string) string {
	return fmt.Sprintf("otp_attempts:%s:%s", purpose, email)
}

// CountOTPAttempt records one verification attempt and returns the number made
// since the first one, which starts a window of length ttl.
func (r *RedisRepository) CountOTPAttempt(ctx context.Context, purpose OTPPurpose, email string, ttl time.Duration) (int64, error) {
	key := otpAttemptsKey(purpose, email)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *RedisRepository) ResetOTPAttempts(ctx context.Context, purpose OTPPurpose, email string) error {
	return r.Del(ctx, otpAttemptsKey(purpose, email))
}

// Cache for user data
type UserCache struct {
	ID        string `json:"id"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	Verified  bool   `json:"verified"`
}

func userCacheKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func (r *RedisRepository) CacheUser(ctx context.Context, user *UserCache) error {
	return r.SetJSON(ctx, userCacheKey(user.ID), user, 30*time.Minute)
}

func (r *RedisRepository) GetUserCache(ctx context.Context, userID string) (*UserCache, error) {
	var user UserCache
	err := r.GetJSON(ctx, userCacheKey(userID), &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *RedisRepository) InvalidateUser(ctx context.Context, userID string) error {
	return r.Del(ctx, userCacheKey(userID))
}

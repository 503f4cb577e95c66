package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"pin-auth-service/internal/bucketing"
	"pin-auth-service/internal/models"
	"pin-auth-service/internal/util"
)

type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.UserBucket = r.buckets.UserBucket(user.UserID)
	user.CreatedAt = time.Now().UTC()

	// Claim the username first; losing the race means the name is taken.
	lookup := r.client.Prepared.CreateUsernameToUser.Bind(
		user.Username, user.UserBucket, user.UserID, user.CreatedAt,
	).WithContext(ctx)

	var existingUsername string
	var existingBucket int
	var existingID string
	var existingCreated time.Time
	applied, err := lookup.ScanCAS(&existingUsername, &existingBucket, &existingID, &existingCreated)
	if err != nil {
		util.Error("Failed to claim username",
			zap.String("username", user.Username),
			zap.Error(err))
		return fmt.Errorf("failed to claim username: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: %s", models.ErrUserExists, user.Username)
	}

	query := r.client.Prepared.CreateUser.Bind(
		user.UserBucket, user.UserID, user.Username,
		user.PasswordHash, user.PasswordSalt,
		user.PepperVersion, user.HashAlgorithm, user.Role,
		user.CreatedAt, user.LastLogin,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	bucket := r.buckets.UserBucket(userID)

	user := &models.User{}
	query := r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.Username,
		&user.PasswordHash, &user.PasswordSalt,
		&user.PepperVersion, &user.HashAlgorithm, &user.Role,
		&user.CreatedAt, &user.LastLogin)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var bucket int
	var userID string

	lookup := r.client.Prepared.GetUserByUsername.Bind(username).WithContext(ctx)
	if err := r.client.ScanWithRetry(lookup, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: username", models.ErrUserNotFound)
		}
		util.Error("Failed to look up username",
			zap.String("username", username),
			zap.Error(err))
		return nil, fmt.Errorf("failed to look up username: %w", err)
	}

	return r.GetUserByID(ctx, userID)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, ts time.Time) error {
	bucket := r.buckets.UserBucket(userID)

	query := r.client.Prepared.UpdateUserLastLogin.Bind(ts, bucket, userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update last login",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

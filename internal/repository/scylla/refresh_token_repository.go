package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"pin-auth-service/internal/models"
	"pin-auth-service/internal/util"
)

type RefreshTokenRepository struct {
	client *ScyllaClient
}

func NewRefreshTokenRepository(client *ScyllaClient) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		client: client,
	}
}

func (r *RefreshTokenRepository) Store(ctx context.Context, token *models.RefreshToken) error {
	ttl := int(time.Until(token.ExpiresAt).Seconds())
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	query := r.client.Prepared.StoreRefresh.Bind(
		token.TokenHash, token.UserID, token.DeviceID,
		token.IssuedAt, token.ExpiresAt, token.Revoked, ttl,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to store refresh token",
			zap.String("user_id", token.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	byUser := r.client.Prepared.StoreRefreshByUser.Bind(
		token.UserID, token.TokenHash, token.DeviceID, token.IssuedAt, ttl,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(byUser, 2); err != nil {
		util.Error("Failed to index refresh token by user",
			zap.String("user_id", token.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to index refresh token: %w", err)
	}

	return nil
}

// FindActive looks up a token digest and returns the row only if it is
// neither revoked nor expired. Unknown, revoked and expired digests are
// indistinguishable to callers.
func (r *RefreshTokenRepository) FindActive(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	token := &models.RefreshToken{}

	query := r.client.Prepared.GetRefresh.Bind(tokenHash).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&token.TokenHash, &token.UserID, &token.DeviceID,
		&token.IssuedAt, &token.ExpiresAt, &token.Revoked)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, models.ErrRefreshNotFound
		}
		util.Error("Failed to get refresh token", zap.Error(err))
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if !token.ActiveAt(time.Now().UTC()) {
		return nil, models.ErrRefreshNotFound
	}

	return token, nil
}

// Rotate revokes the old token and stores its replacement. The revocation is
// a lightweight transaction conditioned on revoked = false, so of two
// concurrent rotations of the same digest exactly one applies; the loser gets
// ErrRotationConflict. If storing the replacement fails the old token stays
// burned, which fails closed.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, newToken *models.RefreshToken) error {
	query := r.client.Prepared.RevokeRefresh.Bind(oldHash).WithContext(ctx)

	var prevRevoked bool
	applied, err := query.ScanCAS(&prevRevoked)
	if err != nil {
		if err == gocql.ErrNotFound {
			return models.ErrRefreshNotFound
		}
		util.Error("Failed to revoke refresh token", zap.Error(err))
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !applied {
		return models.ErrRotationConflict
	}

	if err := r.Store(ctx, newToken); err != nil {
		util.Error("Old token revoked but replacement not stored",
			zap.String("user_id", newToken.UserID),
			zap.Error(err))
		return err
	}

	return nil
}

// RevokeAllForUser burns every live refresh token the user has, across all
// devices.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	iter := r.client.Prepared.ListRefreshByUser.Bind(userID).WithContext(ctx).Iter()

	var hashes []string
	var tokenHash string
	for iter.Scan(&tokenHash) {
		hashes = append(hashes, tokenHash)
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to list refresh tokens for user",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to list refresh tokens: %w", err)
	}

	for _, h := range hashes {
		query := r.client.Query(`UPDATE refresh_tokens SET revoked = true WHERE token_hash = ?`, h).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			util.Error("Failed to revoke refresh token",
				zap.String("user_id", userID),
				zap.Error(err))
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
	}

	util.Info("Revoked all refresh tokens for user",
		zap.String("user_id", userID),
		zap.Int("count", len(hashes)))

	return nil
}

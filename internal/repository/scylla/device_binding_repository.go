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

type DeviceBindingRepository struct {
	client *ScyllaClient
}

func NewDeviceBindingRepository(client *ScyllaClient) *DeviceBindingRepository {
	return &DeviceBindingRepository{
		client: client,
	}
}

// Upsert writes the full binding row. A repeat setup for the same
// (user_id, device_id) pair overwrites every column, so the previous PIN
// digest and device token stop working immediately.
func (r *DeviceBindingRepository) Upsert(ctx context.Context, binding *models.DeviceBinding) error {
	query := r.client.Prepared.UpsertBinding.Bind(
		binding.UserID, binding.DeviceID,
		binding.DeviceNameEncrypted, binding.DeviceNameKeyID,
		binding.PINHash, binding.PINSalt,
		binding.PepperVersion, binding.HashAlgorithm,
		binding.DeviceTokenHash,
		binding.CreatedAt, binding.LastUsedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert device binding",
			zap.String("user_id", binding.UserID),
			zap.String("device_id", binding.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert device binding: %w", err)
	}

	util.Info("Device binding stored",
		zap.String("user_id", binding.UserID),
		zap.String("device_id", binding.DeviceID))

	return nil
}

func (r *DeviceBindingRepository) Get(ctx context.Context, userID, deviceID string) (*models.DeviceBinding, error) {
	binding := &models.DeviceBinding{}

	query := r.client.Prepared.GetBinding.Bind(userID, deviceID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&binding.UserID, &binding.DeviceID,
		&binding.DeviceNameEncrypted, &binding.DeviceNameKeyID,
		&binding.PINHash, &binding.PINSalt,
		&binding.PepperVersion, &binding.HashAlgorithm,
		&binding.DeviceTokenHash,
		&binding.CreatedAt, &binding.LastUsedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: %s/%s", models.ErrBindingNotFound, userID, deviceID)
		}
		util.Error("Failed to get device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device binding: %w", err)
	}

	return binding, nil
}

func (r *DeviceBindingRepository) TouchLastUsed(ctx context.Context, userID, deviceID string, ts time.Time) error {
	query := r.client.Prepared.TouchBinding.Bind(ts, userID, deviceID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to touch device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to touch device binding: %w", err)
	}

	return nil
}

func (r *DeviceBindingRepository) Delete(ctx context.Context, userID, deviceID string) error {
	query := r.client.Prepared.DeleteBinding.Bind(userID, deviceID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to delete device binding: %w", err)
	}

	util.Info("Device binding deleted",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID))

	return nil
}

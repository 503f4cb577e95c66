package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"pin-auth-service/internal/config"
	"pin-auth-service/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the repositories
type PreparedStatements struct {
	CreateUser           *gocql.Query
	CreateUsernameToUser *gocql.Query
	GetUserByID          *gocql.Query
	GetUserByUsername    *gocql.Query
	UpdateUserLastLogin  *gocql.Query

	UpsertBinding *gocql.Query
	GetBinding    *gocql.Query
	TouchBinding  *gocql.Query
	DeleteBinding *gocql.Query

	StoreRefresh       *gocql.Query
	StoreRefreshByUser *gocql.Query
	GetRefresh         *gocql.Query
	RevokeRefresh      *gocql.Query
	ListRefreshByUser  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, username, password_hash, password_salt,
            pepper_version, hash_algorithm, role, created_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	// LWT guards against two registrations racing on the same username.
	prepared.CreateUsernameToUser = s.Session.Query(`
        INSERT INTO users_by_username (username, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, username, password_hash, password_salt,
            pepper_version, hash_algorithm, role, created_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetUserByUsername = s.Session.Query(`
        SELECT user_bucket, user_id FROM users_by_username WHERE username = ?`)

	prepared.UpdateUserLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpsertBinding = s.Session.Query(`
        INSERT INTO device_bindings (
            user_id, device_id, device_name_encrypted, device_name_key_id,
            pin_hash, pin_salt, pepper_version, hash_algorithm,
            device_token_hash, created_at, last_used_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetBinding = s.Session.Query(`
        SELECT user_id, device_id, device_name_encrypted, device_name_key_id,
            pin_hash, pin_salt, pepper_version, hash_algorithm,
            device_token_hash, created_at, last_used_at
        FROM device_bindings WHERE user_id = ? AND device_id = ?`)

	prepared.TouchBinding = s.Session.Query(`
        UPDATE device_bindings SET last_used_at = ?
        WHERE user_id = ? AND device_id = ?`)

	prepared.DeleteBinding = s.Session.Query(`
        DELETE FROM device_bindings WHERE user_id = ? AND device_id = ?`)

	prepared.StoreRefresh = s.Session.Query(`
        INSERT INTO refresh_tokens (
            token_hash, user_id, device_id, issued_at, expires_at, revoked
        ) VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.StoreRefreshByUser = s.Session.Query(`
        INSERT INTO refresh_tokens_by_user (user_id, token_hash, device_id, issued_at)
        VALUES (?, ?, ?, ?) USING TTL ?`)

	prepared.GetRefresh = s.Session.Query(`
        SELECT token_hash, user_id, device_id, issued_at, expires_at, revoked
        FROM refresh_tokens WHERE token_hash = ?`)

	// LWT: exactly one of two concurrent rotations wins.
	prepared.RevokeRefresh = s.Session.Query(`
        UPDATE refresh_tokens SET revoked = true
        WHERE token_hash = ? IF revoked = false`)

	prepared.ListRefreshByUser = s.Session.Query(`
        SELECT token_hash FROM refresh_tokens_by_user WHERE user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

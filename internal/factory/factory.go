package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"pin-auth-service/internal/audit"
	"pin-auth-service/internal/bucketing"
	"pin-auth-service/internal/client"
	"pin-auth-service/internal/config"
	"pin-auth-service/internal/encryption"
	"pin-auth-service/internal/hashing"
	"pin-auth-service/internal/pin"
	"pin-auth-service/internal/repository/redis"
	"pin-auth-service/internal/repository/scylla"
	"pin-auth-service/internal/service"
	"pin-auth-service/internal/tls"
	"pin-auth-service/internal/token"
	"pin-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	minter           *token.Minter
	encryptionMgr    *encryption.Manager
	bucketingManager *bucketing.Manager
	recorder         *audit.Recorder

	// Repositories
	userRepository    *scylla.UserRepository
	bindingRepository *scylla.DeviceBindingRepository
	refreshRepository *scylla.RefreshTokenRepository
	lockoutCache      *redis.LockoutCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients brings up the required stores and the optional audit
// sinks. Scylla and Redis are mandatory; Kafka, ClickHouse and Elasticsearch
// come up only when enabled and never block startup outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if rc, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if sc, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without ClickHouse", util.ErrorField(err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized")
		}
	}

	if f.config.Elastic.Enabled {
		if es, err := client.NewElasticsearchClient(f.config); err != nil {
			util.Warn("Elasticsearch initialization failed - proceeding without Elasticsearch", util.ErrorField(err))
		} else {
			f.esClient = es
			util.Info("Elasticsearch client initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.minter = token.NewMinter(f.config)
	f.bucketingManager = bucketing.NewManager(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionMgr = encryption.NewManager(f.config, kmsClient)

	f.recorder = audit.NewRecorder(
		f.config,
		f.kafkaProducer,
		f.clickhouseClient,
		f.esClient,
		f.bucketingManager,
	)

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}

	return nil
}

// ==============================
// Repositories
// ==============================

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.ScyllaClient(), f.BucketingManager())
	}
	return f.userRepository
}

func (f *Factory) DeviceBindingRepository() *scylla.DeviceBindingRepository {
	if f.bindingRepository == nil {
		f.bindingRepository = scylla.NewDeviceBindingRepository(f.ScyllaClient())
	}
	return f.bindingRepository
}

func (f *Factory) RefreshTokenRepository() *scylla.RefreshTokenRepository {
	if f.refreshRepository == nil {
		f.refreshRepository = scylla.NewRefreshTokenRepository(f.ScyllaClient())
	}
	return f.refreshRepository
}

func (f *Factory) LockoutCache() *redis.LockoutCache {
	if f.lockoutCache == nil {
		f.lockoutCache = redis.NewLockoutCache(f.RedisClient(), f.config)
	}
	return f.lockoutCache
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.UserRepository(),
			f.DeviceBindingRepository(),
			f.RefreshTokenRepository(),
			f.LockoutCache(),
			pin.NewPolicy(f.config.Pin.MinLen, f.config.Pin.MaxLen),
			f.Hasher(),
			f.Minter(),
			f.EncryptionManager(),
			f.Recorder(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes the mandatory stores and any enabled sinks. A missing
// optional sink is not an error; a missing mandatory client is.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		healthErrors["redis"] = f.redisClient.HealthCheck(ctx)
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		healthErrors["scylla"] = f.scyllaClient.HealthCheck()
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		healthErrors["kafka"] = f.kafkaProducer.HealthCheck(ctx)
	}
	if f.clickhouseClient != nil {
		healthErrors["clickhouse"] = f.clickhouseClient.HealthCheck(ctx)
	}
	if f.esClient != nil {
		healthErrors["elasticsearch"] = f.esClient.HealthCheck()
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	for _, err := range f.HealthCheck(ctx) {
		if err != nil {
			return false
		}
	}
	return true
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionMgr != nil {
			f.encryptionMgr.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) Minter() *token.Minter {
	return f.minter
}

func (f *Factory) EncryptionManager() *encryption.Manager {
	return f.encryptionMgr
}

func (f *Factory) BucketingManager() *bucketing.Manager {
	return f.bucketingManager
}

func (f *Factory) Recorder() *audit.Recorder {
	return f.recorder
}

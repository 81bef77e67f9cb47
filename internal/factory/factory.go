// Package factory manages the lifecycle of all application
// dependencies: clients, managers, repositories, services and the
// background consumer.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"security-service/internal/bucketing"
	"security-service/internal/client"
	"security-service/internal/config"
	"security-service/internal/encryption"
	"security-service/internal/hashing"
	"security-service/internal/messaging"
	"security-service/internal/model"
	"security-service/internal/repository/clickhouse"
	esrepo "security-service/internal/repository/es"
	redisrepo "security-service/internal/repository/redis"
	"security-service/internal/repository/scylla"
	"security-service/internal/service"
	"security-service/internal/token"
	"security-service/internal/util"
)

// Factory creates and owns all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Token pieces
	revocationRegistry *token.RevocationRegistry
	tokenService       *token.Service

	// Repositories
	eventStore     *clickhouse.EventStore
	eventIndex     *esrepo.EventIndex
	userRepository *scylla.UserRepository
	attemptCache   *redisrepo.AttemptCache

	// Services
	securityService *service.SecurityService
	authService     *service.AuthService

	consumerCancel context.CancelFunc
	consumerDone   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency. In
// production any unhealthy client aborts startup; in development the
// service comes up degraded with warnings.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ClickHouse holds the event history the detector reads; it is the
	// one store the service cannot meaningfully run without.
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka is best-effort: without it the service still detects and
	// stores, it just cannot publish or consume.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}
	if f.kafkaProducer != nil {
		consumer, err := client.NewKafkaConsumer(f.config,
			f.config.Kafka.AuthTopic, f.config.Kafka.ConsumerGroup, util.Get())
		if err != nil {
			util.Warn("Kafka consumer initialization failed - proceeding without consumer", util.ErrorField(err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	// Elasticsearch is the optional search index.
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - search disabled", util.ErrorField(err))
	} else {
		f.esClient = es
		if err := f.esClient.HealthCheck(); err != nil {
			util.Warn("Elasticsearch health check failed - search disabled", util.ErrorField(err))
			f.esClient.Close()
			f.esClient = nil
		} else {
			util.Info("Elasticsearch client initialized and healthy")
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
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	em, err := encryption.NewEncryptionManager(f.config)
	if err != nil {
		return fmt.Errorf("encryption manager: %w", err)
	}
	f.encryptionManager = em

	f.revocationRegistry = token.NewRevocationRegistry(
		f.config.JWT.Expiration, f.config.Security.SweepInterval)
	f.tokenService = token.NewService(
		f.config.JWT.Secret, f.config.JWT.Expiration, f.revocationRegistry)

	util.Info("Managers initialized successfully",
		util.Duration("revocation_ttl", f.config.JWT.Expiration),
		util.Duration("sweep_interval", f.config.Security.SweepInterval),
	)
	return nil
}

func (f *Factory) initializeServices() {
	f.eventStore = clickhouse.NewEventStore(
		f.clickhouseClient, f.bucketingManager, f.encryptionManager)
	f.userRepository = scylla.NewUserRepository(f.scyllaClient)
	if f.redisClient != nil {
		f.attemptCache = redisrepo.NewAttemptCache(f.redisClient)
	}
	if f.esClient != nil {
		f.eventIndex = esrepo.NewEventIndex(f.esClient, f.config.Elasticsearch.Index)
	}

	var publisher model.AlertPublisher
	if f.kafkaProducer != nil {
		publisher = messaging.NewEventPublisher(f.kafkaProducer, f.config.Kafka.AlertTopic)
	} else {
		publisher = messaging.NoopPublisher{}
	}

	var index model.EventIndex
	if f.eventIndex != nil {
		index = f.eventIndex
	}
	var attempts model.AttemptCache
	if f.attemptCache != nil {
		attempts = f.attemptCache
	}

	f.securityService = service.NewSecurityService(
		f.eventStore, publisher, index, f.config.Security)
	f.authService = service.NewAuthService(
		f.userRepository, f.hasher, f.tokenService, f.securityService,
		attempts, f.config.Security)
}

// StartConsumer launches the auth event consumer loop. No-op when Kafka
// is unavailable.
func (f *Factory) StartConsumer() {
	if f.kafkaConsumer == nil {
		util.Warn("Auth event consumer not started - Kafka unavailable")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.consumerCancel = cancel
	f.consumerDone = make(chan struct{})

	consumer := messaging.NewAuthEventConsumer(f.kafkaConsumer, f.securityService)
	go func() {
		defer close(f.consumerDone)
		if err := consumer.Run(ctx); err != nil {
			util.Error("Auth event consumer exited", util.ErrorField(err))
		}
	}()
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Stop ingesting before tearing down what the consumer uses.
		if f.consumerCancel != nil {
			f.consumerCancel()
			<-f.consumerDone
		}
		if f.kafkaConsumer != nil {
			_ = f.kafkaConsumer.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.revocationRegistry != nil {
			f.revocationRegistry.Close()
			util.Info("Revocation registry stopped")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
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

func (f *Factory) TokenService() *token.Service {
	return f.tokenService
}

func (f *Factory) SecurityService() *service.SecurityService {
	return f.securityService
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"security-service/internal/config"
	"security-service/internal/util"
)

// PreparedStatements holds the statements the user repository binds.
type PreparedStatements struct {
	CreateUser          *gocql.Query
	CreateUserByName    *gocql.Query
	GetUserByID         *gocql.Query
	GetUserByName       *gocql.Query
	UpdateUserLastLogin *gocql.Query
	BanUser             *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
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
		INSERT INTO users
			(user_id, username, password_hash, role, banned,
			 created_at, last_login_at, last_login_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateUserByName = s.Session.Query(`
		INSERT INTO users_by_name
			(username, user_id, password_hash, role, banned,
			 created_at, last_login_at, last_login_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
		SELECT user_id, username, password_hash, role, banned,
		       created_at, last_login_at, last_login_ip
		FROM users WHERE user_id = ?`)

	prepared.GetUserByName = s.Session.Query(`
		SELECT user_id, username, password_hash, role, banned,
		       created_at, last_login_at, last_login_ip
		FROM users_by_name WHERE username = ?`)

	prepared.UpdateUserLastLogin = s.Session.Query(`
		UPDATE users SET last_login_at = ?, last_login_ip = ?
		WHERE user_id = ?`)

	prepared.BanUser = s.Session.Query(`
		UPDATE users SET banned = true WHERE user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

// ExecuteBatch runs a logged batch with the session defaults.
func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	return s.Session.Query(`SELECT now() FROM system.local`).Exec()
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB session closed")
	}
}

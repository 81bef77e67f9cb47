package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/model"
	"security-service/internal/util"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository implements model.UserRepository on ScyllaDB. Users are
// written to both the id-keyed and name-keyed tables in one logged
// batch so lookups by either key stay single-partition.
type UserRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserID, user.Username, user.PasswordHash, user.Role, user.Banned,
		user.CreatedAt, user.LastLoginAt, user.LastLoginIP)

	batch.Query(r.client.Prepared.CreateUserByName.Statement(),
		user.Username, user.UserID, user.PasswordHash, user.Role, user.Banned,
		user.CreatedAt, user.LastLoginAt, user.LastLoginIP)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			zap.String("username", user.Username),
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("username", user.Username),
		zap.String("user_id", user.UserID))
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	user := &model.User{}

	err := r.client.Prepared.GetUserByID.WithContext(ctx).Bind(userID).Scan(
		&user.UserID, &user.Username, &user.PasswordHash, &user.Role, &user.Banned,
		&user.CreatedAt, &user.LastLoginAt, &user.LastLoginIP)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}

	err := r.client.Prepared.GetUserByName.WithContext(ctx).Bind(username).Scan(
		&user.UserID, &user.Username, &user.PasswordHash, &user.Role, &user.Banned,
		&user.CreatedAt, &user.LastLoginAt, &user.LastLoginIP)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user by username",
			zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

func (r *UserRepository) UpdateUserLastLogin(ctx context.Context, userID, loginIP string) error {
	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.UpdateUserLastLogin.Statement(), now, loginIP, userID)
	batch.Query(`UPDATE users_by_name SET last_login_at = ?, last_login_ip = ? WHERE username = ?`,
		now, loginIP, user.Username)

	if err := r.client.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) BanUser(ctx context.Context, userID string) error {
	// Need the username to keep both tables consistent.
	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.BanUser.Statement(), userID)
	batch.Query(`UPDATE users_by_name SET banned = true WHERE username = ?`, user.Username)

	if err := r.client.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to ban user: %w", err)
	}
	util.Warn("User banned", zap.String("user_id", userID))
	return nil
}

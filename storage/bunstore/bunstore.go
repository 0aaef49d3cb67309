// Package bunstore keeps the OIDC user cache in a SQL database through bun.
package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// UserModel is the bun model for cached users.
type UserModel struct {
	bun.BaseModel `bun:"table:oidc_users,alias:ou"`

	SessionKey string     `bun:"session_key,pk"`
	Subject    string     `bun:"subject"`
	Payload    string     `bun:"payload,notnull"`
	ExpiresAt  *time.Time `bun:"expires_at,nullzero"`
	Renewable  bool       `bun:"renewable,notnull,default:false"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull"`
}

// UserStore is a usermanager.UserStore on bun.
type UserStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewUserStore(db bun.IDB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// CreateTable creates the oidc_users table when missing.
func (s *UserStore) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*UserModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create oidc_users: %w", err)
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, key string) (*oidcstore.User, error) {
	var model UserModel
	err := s.db.NewSelect().
		Model(&model).
		Where("session_key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}

	var user oidcstore.User
	if err := json.Unmarshal([]byte(model.Payload), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

func (s *UserStore) Set(ctx context.Context, key string, user *oidcstore.User) error {
	if user == nil {
		return s.Delete(ctx, key)
	}

	model, err := s.toModel(key, user)
	if err != nil {
		return err
	}

	_, err = s.db.NewInsert().
		Model(model).
		On("CONFLICT (session_key) DO UPDATE").
		Set("subject = EXCLUDED.subject").
		Set("payload = EXCLUDED.payload").
		Set("expires_at = EXCLUDED.expires_at").
		Set("renewable = EXCLUDED.renewable").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*UserModel)(nil)).
		Where("session_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// PurgeExpired removes users whose access token expired and that cannot be
// renewed with a refresh token. It returns the number of removed rows.
func (s *UserStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*UserModel)(nil)).
		Where("expires_at IS NOT NULL").
		Where("expires_at < ?", s.now().UTC()).
		Where("renewable = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge users: %w", err)
	}
	return res.RowsAffected()
}

func (s *UserStore) toModel(key string, user *oidcstore.User) (*UserModel, error) {
	payload, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}

	model := &UserModel{
		SessionKey: key,
		Subject:    user.Subject(),
		Payload:    string(payload),
		Renewable:  user.RefreshToken != "",
		UpdatedAt:  s.now().UTC(),
	}
	if user.ExpiresAt > 0 {
		at := time.Unix(user.ExpiresAt, 0).UTC()
		model.ExpiresAt = &at
	}
	return model, nil
}

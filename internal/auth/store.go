package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = 5 * time.Minute
	redisKeyPrefix  = "clinai:key:"
)

// KeyStore looks up staff key metadata by hash. A nil result with a nil
// error means the key is unknown, revoked or expired.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// CachedKeyStore implements KeyStore with PostgreSQL + Redis cache.
type CachedKeyStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client, ttl time.Duration) *CachedKeyStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedKeyStore{db: db, redis: rdb, ttl: ttl}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil && !meta.Expired(time.Now()) {
				return &meta, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("key cache unavailable", "error", err)
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	if s.redis != nil {
		if data, err := json.Marshal(meta); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, s.ttl)
		}
	}
	return meta, nil
}

// Invalidate drops a cached key, e.g. after revocation.
func (s *CachedKeyStore) Invalidate(ctx context.Context, keyHash string) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, redisKeyPrefix+keyHash).Err()
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata
	var allowedProvidersJSON []byte
	var sensitivity string

	err := s.db.QueryRow(ctx, `
		SELECT id, staff_id, department_id, role, name, max_sensitivity,
		       allowed_providers, rpm_limit, daily_spend_limit_cents, expires_at
		FROM staff_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&meta.ID,
		&meta.StaffID,
		&meta.DepartmentID,
		&meta.Role,
		&meta.Name,
		&sensitivity,
		&allowedProvidersJSON,
		&meta.RPMLimit,
		&meta.DailySpendLimitCents,
		&meta.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query staff_keys: %w", err)
	}

	meta.MaxSensitivity = parseSensitivityOrLowest(sensitivity)
	if len(allowedProvidersJSON) > 0 {
		if err := json.Unmarshal(allowedProvidersJSON, &meta.AllowedProviders); err != nil {
			return nil, fmt.Errorf("decode allowed_providers for key %s: %w", meta.ID, err)
		}
	}

	// last_used_at is best effort
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE staff_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID)
	}()

	return &meta, nil
}

// RowQuerier is satisfied by *pgx.Conn and *pgxpool.Pool.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertKey stores a newly issued key. The raw key is never persisted.
func InsertKey(ctx context.Context, db RowQuerier, rawKey string, meta KeyMetadata) (string, error) {
	providers, err := json.Marshal(meta.AllowedProviders)
	if err != nil {
		return "", fmt.Errorf("encode allowed_providers: %w", err)
	}
	if meta.AllowedProviders == nil {
		providers = []byte("[]")
	}

	var id string
	err = db.QueryRow(ctx, `
		INSERT INTO staff_keys (key_hash, key_prefix, staff_id, department_id, role, name,
		                        max_sensitivity, allowed_providers, rpm_limit,
		                        daily_spend_limit_cents, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, HashKey(rawKey), KeyPrefix(rawKey), meta.StaffID, meta.DepartmentID, meta.Role, meta.Name,
		string(meta.MaxSensitivity), providers, meta.RPMLimit, meta.DailySpendLimitCents, meta.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert staff key: %w", err)
	}
	return id, nil
}

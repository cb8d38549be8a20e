package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// Key builds a namespaced cache key: prefix:category:id. Every key this
// service writes goes through here so subsystems sharing the store never
// collide.
func Key(category constants.CacheCategory, id string) string {
	return fmt.Sprintf("%s:%s:%s", constants.CacheKeyPrefix, category, id)
}

// CacheStore is the fast, volatile side of session state. Sessions live
// here under a sliding TTL; the durable store holds the fixed-expiry mirror.
// Losing this store loses liveness, not truth.
//
// Every value written through this store is sealed into an envelope first;
// Redis only ever holds {key_id, ciphertext} documents.
type CacheStore struct {
	client *redis.Client
	cipher *crypto.FieldCipher
	log    logger.Logger

	sessionTTL time.Duration
	deviceTTL  time.Duration

	// deviceMemo short-circuits repeated known-device lookups on the hot
	// login path. Entries are advisory; Redis remains the source of truth.
	deviceMemo *gocache.Cache
}

// NewCacheStore wraps a connected Redis client.
func NewCacheStore(client *redis.Client, cipher *crypto.FieldCipher, sessionTTL, deviceTTL time.Duration, log logger.Logger) *CacheStore {
	return &CacheStore{
		client:     client,
		cipher:     cipher,
		log:        log.WithComponent("cache_store"),
		sessionTTL: sessionTTL,
		deviceTTL:  deviceTTL,
		deviceMemo: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// sealValue encrypts v and encodes the envelope for storage.
func (s *CacheStore) sealValue(v interface{}) ([]byte, error) {
	env, err := s.cipher.SealJSON(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode envelope")
	}
	return data, nil
}

// openValue decodes a stored envelope and decrypts it into v.
func (s *CacheStore) openValue(raw []byte, v interface{}) error {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, errors.KindInternal, "corrupt cache envelope")
	}
	return s.cipher.OpenJSON(env, v)
}

// ================================================================================
// Sessions
// ================================================================================

// CreateSession stores a session under the sliding TTL and indexes it in the
// owner's session set. Both writes go in one pipeline.
func (s *CacheStore) CreateSession(ctx context.Context, session *models.Session) error {
	data, err := s.sealValue(session)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, Key(constants.CategorySession, session.SessionID), data, s.sessionTTL)
	indexKey := Key(constants.CategoryUserSessions, session.UserID)
	pipe.SAdd(ctx, indexKey, session.SessionID)
	// The index outlives its longest session by a margin; stale members are
	// pruned on read.
	pipe.Expire(ctx, indexKey, s.sessionTTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// GetSession returns the session and slides its TTL. Every successful read
// is activity, so the expiry window restarts and the last access timestamp
// moves forward.
func (s *CacheStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	key := Key(constants.CategorySession, sessionID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrSessionNotFound(sessionID)
	}
	if err != nil {
		return nil, errors.ErrCache(err)
	}

	var session models.Session
	if err := s.openValue(raw, &session); err != nil {
		// A payload that no longer opens is treated as absent; the durable
		// mirror is the recovery path.
		s.log.Error(ctx, "failed to open cached session, treating as absent", err,
			logger.String("session_id", sessionID),
		)
		return nil, errors.ErrSessionNotFound(sessionID)
	}

	session.Touch()
	updated, err := s.sealValue(&session)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, key, updated, s.sessionTTL).Err(); err != nil {
		// The read succeeded; a failed slide only shortens the session.
		s.log.Warn(ctx, "failed to slide session ttl", logger.String("session_id", sessionID))
	}

	return &session, nil
}

// UpdateSession merges data into an existing session and restarts its TTL.
func (s *CacheStore) UpdateSession(ctx context.Context, sessionID string, data map[string]interface{}) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.Merge(data)

	raw, err := s.sealValue(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(constants.CategorySession, sessionID), raw, s.sessionTTL).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// DeleteSession removes the session and its index membership. Deleting an
// absent session is not an error.
func (s *CacheStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, Key(constants.CategorySession, sessionID))
	if userID != "" {
		pipe.SRem(ctx, Key(constants.CategoryUserSessions, userID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// ListUserSessions returns the ids of the user's live sessions. Members
// whose session key already expired are pruned from the index as a side
// effect.
func (s *CacheStore) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	indexKey := Key(constants.CategoryUserSessions, userID)
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, errors.ErrCache(err)
	}

	live := make([]string, 0, len(members))
	var stale []interface{}
	for _, id := range members {
		exists, err := s.client.Exists(ctx, Key(constants.CategorySession, id)).Result()
		if err != nil {
			return nil, errors.ErrCache(err)
		}
		if exists > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			s.log.Warn(ctx, "failed to prune stale session index members",
				logger.String("user_id", userID),
				logger.Int("stale", len(stale)),
			)
		}
	}
	return live, nil
}

// DeleteAllUserSessions removes every session of a user and the index
// itself, returning how many sessions were dropped.
func (s *CacheStore) DeleteAllUserSessions(ctx context.Context, userID string) (int, error) {
	indexKey := Key(constants.CategoryUserSessions, userID)
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, errors.ErrCache(err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range members {
		pipe.Del(ctx, Key(constants.CategorySession, id))
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.ErrCache(err)
	}
	return len(members), nil
}

// ================================================================================
// Refresh token cache
// ================================================================================

// cachedRefreshToken is the volatile copy of a refresh token record. The
// durable store stays authoritative for one-time-use; this copy only lets
// the happy path skip a database read.
type cachedRefreshToken struct {
	TokenID   string `json:"token_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// StoreRefreshToken caches a refresh token's routing data for its lifetime.
func (s *CacheStore) StoreRefreshToken(ctx context.Context, tokenID, sessionID, userID string, ttl time.Duration) error {
	data, err := s.sealValue(cachedRefreshToken{TokenID: tokenID, SessionID: sessionID, UserID: userID})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(constants.CategoryRefreshToken, tokenID), data, ttl).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// DeleteRefreshToken drops the cached copy after consumption or revocation.
func (s *CacheStore) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	if err := s.client.Del(ctx, Key(constants.CategoryRefreshToken, tokenID)).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// ================================================================================
// Device tracking
// ================================================================================

// RememberDevice upserts a device record under the device memory TTL and
// indexes it in the user's device set.
func (s *CacheStore) RememberDevice(ctx context.Context, device *models.DeviceRecord) error {
	deviceKey := Key(constants.CategoryDevice, device.UserID+":"+device.Fingerprint)

	existing, err := s.getDevice(ctx, deviceKey)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	if existing != nil {
		existing.MarkSeen(device.IPAddress)
		device = existing
	}

	data, err := s.sealValue(device)
	if err != nil {
		return err
	}

	indexKey := Key(constants.CategoryUserDevices, device.UserID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, deviceKey, data, s.deviceTTL)
	pipe.SAdd(ctx, indexKey, device.Fingerprint)
	pipe.Expire(ctx, indexKey, s.deviceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.ErrCache(err)
	}

	s.deviceMemo.Set(deviceKey, true, gocache.DefaultExpiration)
	return nil
}

// IsKnownDevice reports whether the user has authenticated from this device
// within the memory window.
func (s *CacheStore) IsKnownDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	deviceKey := Key(constants.CategoryDevice, userID+":"+fingerprint)
	if _, found := s.deviceMemo.Get(deviceKey); found {
		return true, nil
	}

	exists, err := s.client.Exists(ctx, deviceKey).Result()
	if err != nil {
		return false, errors.ErrCache(err)
	}
	if exists > 0 {
		s.deviceMemo.Set(deviceKey, true, gocache.DefaultExpiration)
		return true, nil
	}
	return false, nil
}

// ListDevices returns the user's remembered devices, pruning fingerprints
// whose records aged out.
func (s *CacheStore) ListDevices(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	indexKey := Key(constants.CategoryUserDevices, userID)
	fingerprints, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, errors.ErrCache(err)
	}

	devices := make([]*models.DeviceRecord, 0, len(fingerprints))
	var stale []interface{}
	for _, fp := range fingerprints {
		device, err := s.getDevice(ctx, Key(constants.CategoryDevice, userID+":"+fp))
		if err != nil {
			if errors.IsNotFound(err) {
				stale = append(stale, fp)
				continue
			}
			return nil, err
		}
		devices = append(devices, device)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			s.log.Warn(ctx, "failed to prune stale device index members",
				logger.String("user_id", userID),
			)
		}
	}
	return devices, nil
}

func (s *CacheStore) getDevice(ctx context.Context, key string) (*models.DeviceRecord, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.KindNotFound, "device not found")
	}
	if err != nil {
		return nil, errors.ErrCache(err)
	}
	var device models.DeviceRecord
	if err := s.openValue(raw, &device); err != nil {
		s.log.Error(ctx, "failed to open device record, treating as absent", err)
		return nil, errors.New(errors.KindNotFound, "device not found")
	}
	return &device, nil
}

// ================================================================================
// Health
// ================================================================================

// Ping verifies store liveness for health endpoints.
func (s *CacheStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

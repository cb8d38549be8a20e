// Package crypto implements the encryption-key lifecycle, envelope
// encryption for sensitive fields, and signed token issuance.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

const (
	ringFileName  = "key_ring.json"
	masterKeyLen  = 32
	dataKeyLen    = 32
	saveBatchSize = 1000
)

// keyMetadata is the public part of a ring key as persisted on disk.
type keyMetadata struct {
	KeyID     string    `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// storedKey is a data key sealed under the master key, plus its metadata.
type storedKey struct {
	EncryptedData string      `json:"encrypted_data"`
	Metadata      keyMetadata `json:"metadata"`
}

// ringFile is the on-disk representation of the whole ring. Key material
// appears only inside EncryptedData; everything else is clear metadata.
type ringFile struct {
	Salt            string               `json:"salt"`
	Keys            map[string]storedKey `json:"keys"`
	ActiveKeyID     string               `json:"active_key_id"`
	EncryptionCount int64                `json:"encryption_count"`
}

// ringKey is a decrypted data key held in memory. material is retained so
// the key can be resealed under the master key on every save.
type ringKey struct {
	id        string
	aead      cipher.AEAD
	material  []byte
	createdAt time.Time
	isActive  bool
}

// RingInfo is the operator-facing summary of ring state. It carries key ids
// and counters only, never material.
type RingInfo struct {
	ActiveKeyID     string        `json:"active_key_id"`
	KeyCount        int           `json:"key_count"`
	EncryptionCount int64         `json:"encryption_count"`
	ActiveKeyAge    time.Duration `json:"active_key_age"`
}

// KeyRing manages the set of data keys used for envelope encryption. The
// active key encrypts; every retained key can still decrypt. The ring is
// persisted as a single JSON file whose data keys are sealed under a master
// key derived from the configured password.
//
// All state transitions (rotation, counter bumps, persistence) happen under
// one mutex, so concurrent encrypt calls during a rotation are safe.
type KeyRing struct {
	mu sync.Mutex

	cfg config.KeyRingConfig
	log logger.Logger

	// masterPassword is retained so every save can re-derive the master key
	// under a fresh salt. It never leaves this struct.
	masterPassword  []byte
	keys            map[string]*ringKey
	activeKeyID     string
	encryptionCount int64
	opsSinceSave    int64

	// now is injectable so rotation thresholds can be tested without sleeping.
	now func() time.Time

	// onRotate, when set, observes each rotation with the new active key id.
	onRotate func(newKeyID string)
}

// NewKeyRing loads the ring from cfg.StorePath, creating the directory, a
// fresh salt, and an initial key when nothing exists yet. A missing master
// password is a fatal configuration error.
func NewKeyRing(cfg config.KeyRingConfig, masterPassword string, log logger.Logger) (*KeyRing, error) {
	if masterPassword == "" {
		return nil, errors.ErrMissingMasterPassword()
	}

	if err := os.MkdirAll(cfg.StorePath, 0o700); err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to create key store directory")
	}

	r := &KeyRing{
		cfg:            cfg,
		log:            log.WithComponent("key_ring"),
		masterPassword: []byte(masterPassword),
		keys:           make(map[string]*ringKey),
		now:            func() time.Time { return time.Now().UTC() },
	}

	path := filepath.Join(cfg.StorePath, ringFileName)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := r.load(raw); err != nil {
			return nil, err
		}
		r.log.Info(context.Background(), "key ring loaded",
			logger.Int("keys", len(r.keys)),
			logger.String("active_key_id", r.activeKeyID),
		)
	case os.IsNotExist(err):
		if err := r.rotateLocked(); err != nil {
			return nil, err
		}
		r.log.Info(context.Background(), "key ring initialized",
			logger.String("active_key_id", r.activeKeyID),
		)
	default:
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to read key ring file")
	}

	return r, nil
}

// EncryptWithActive seals plaintext under the active key, returning the key
// id and the nonce-prefixed ciphertext. Rotation thresholds are checked
// before every encryption so a key never exceeds its age or usage limits.
func (r *KeyRing) EncryptWithActive(plaintext []byte) (string, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rotationDue() {
		if err := r.rotateLocked(); err != nil {
			// Encryption proceeds under the old key; rotation retries on
			// the next call.
			r.log.Error(context.Background(), "key rotation failed, continuing with current key", err,
				logger.String("active_key_id", r.activeKeyID),
			)
		}
	}

	active := r.keys[r.activeKeyID]
	ct, err := sealAEAD(active.aead, plaintext)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.KindInternal, "encryption failed")
	}

	r.encryptionCount++
	r.opsSinceSave++
	if r.opsSinceSave >= saveBatchSize {
		if err := r.saveLocked(); err != nil {
			r.log.Error(context.Background(), "periodic key ring save failed", err)
		}
	}

	return active.id, ct, nil
}

// Decrypt opens ciphertext produced by the named key. An unknown key id is
// an integrity error: the data outlived its key.
func (r *KeyRing) Decrypt(keyID string, ciphertext []byte) ([]byte, error) {
	r.mu.Lock()
	key, ok := r.keys[keyID]
	r.mu.Unlock()

	if !ok {
		return nil, errors.ErrKeyNotFound(keyID)
	}

	pt, err := openAEAD(key.aead, ciphertext)
	if err != nil {
		return nil, errors.ErrDecryptionFailed(keyID, err)
	}
	return pt, nil
}

// Rotate forces a rotation regardless of thresholds and persists the ring.
func (r *KeyRing) Rotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotateLocked(); err != nil {
		return "", err
	}
	return r.activeKeyID, nil
}

// Cleanup removes inactive keys older than the retention window. The active
// key is never removed, and the last remaining key is never removed even if
// it is past retention: data sealed under it may still exist.
func (r *KeyRing) Cleanup() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().AddDate(0, 0, -r.cfg.RetentionDays)
	removed := 0
	for id, key := range r.keys {
		if key.isActive || id == r.activeKeyID {
			continue
		}
		if len(r.keys) <= 1 {
			break
		}
		if key.createdAt.Before(cutoff) {
			delete(r.keys, id)
			removed++
		}
	}

	if removed > 0 {
		if err := r.saveLocked(); err != nil {
			return removed, err
		}
		r.log.Info(context.Background(), "key ring cleanup completed",
			logger.Int("removed", removed),
			logger.Int("remaining", len(r.keys)),
		)
	}
	return removed, nil
}

// Info returns the ring's public state for health and operator endpoints.
func (r *KeyRing) Info() RingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RingInfo{
		ActiveKeyID:     r.activeKeyID,
		KeyCount:        len(r.keys),
		EncryptionCount: r.encryptionCount,
	}
	if active, ok := r.keys[r.activeKeyID]; ok {
		info.ActiveKeyAge = r.now().Sub(active.createdAt)
	}
	return info
}

// SetRotationHook installs an observer invoked after each successful
// rotation with the new active key id. The hook runs under the ring mutex
// and must not call back into the ring.
func (r *KeyRing) SetRotationHook(fn func(newKeyID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRotate = fn
}

// HasKey reports whether the named key is present in the ring.
func (r *KeyRing) HasKey(keyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[keyID]
	return ok
}

// Close persists any unsaved counter state.
func (r *KeyRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// ================================================================================
// Internal state transitions (caller holds r.mu)
// ================================================================================

func (r *KeyRing) rotationDue() bool {
	active, ok := r.keys[r.activeKeyID]
	if !ok {
		return true
	}
	if r.cfg.RotationDays > 0 {
		if r.now().Sub(active.createdAt) >= time.Duration(r.cfg.RotationDays)*24*time.Hour {
			return true
		}
	}
	if r.cfg.MaxEncryptionOperations > 0 && r.encryptionCount >= r.cfg.MaxEncryptionOperations {
		return true
	}
	return false
}

func (r *KeyRing) rotateLocked() error {
	material := make([]byte, dataKeyLen)
	if _, err := rand.Read(material); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to generate key material")
	}
	aead, err := newAEAD(material)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to construct cipher")
	}

	oldID := r.activeKeyID
	if old, ok := r.keys[oldID]; ok {
		old.isActive = false
	}

	id := utils.NewKeyID(r.now())
	r.keys[id] = &ringKey{
		id:        id,
		aead:      aead,
		material:  material,
		createdAt: r.now(),
		isActive:  true,
	}
	r.activeKeyID = id
	r.encryptionCount = 0

	if err := r.saveLocked(); err != nil {
		return err
	}

	if r.onRotate != nil {
		r.onRotate(id)
	}
	r.log.Info(context.Background(), "encryption key rotated",
		logger.String("old_key_id", oldID),
		logger.String("new_key_id", id),
		logger.Int("keys", len(r.keys)),
	)
	return nil
}

func (r *KeyRing) load(raw []byte) error {
	var file ringFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "corrupt key ring file")
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "corrupt key ring salt")
	}

	masterAEAD, err := r.deriveMaster(salt)
	if err != nil {
		return err
	}

	for id, stored := range file.Keys {
		sealed, err := base64.StdEncoding.DecodeString(stored.EncryptedData)
		if err != nil {
			return errors.Wrap(err, errors.KindConfiguration, "corrupt key material encoding")
		}
		material, err := openAEAD(masterAEAD, sealed)
		if err != nil {
			// A wrong password fails here, on the first key.
			return errors.Wrap(err, errors.KindConfiguration, "failed to unseal key material, wrong master password?")
		}
		aead, err := newAEAD(material)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to construct cipher")
		}
		r.keys[id] = &ringKey{
			id:        id,
			aead:      aead,
			material:  material,
			createdAt: stored.Metadata.CreatedAt,
			isActive:  stored.Metadata.IsActive,
		}
	}

	r.activeKeyID = file.ActiveKeyID
	r.encryptionCount = file.EncryptionCount

	if _, ok := r.keys[r.activeKeyID]; !ok {
		return errors.New(errors.KindConfiguration, "key ring has no active key")
	}
	return nil
}

// deriveMaster stretches the master password against a salt.
func (r *KeyRing) deriveMaster(salt []byte) (cipher.AEAD, error) {
	master := pbkdf2.Key(r.masterPassword, salt, constants.KeyDerivationIterations, masterKeyLen, sha256.New)
	aead, err := newAEAD(master)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to construct master cipher")
	}
	return aead, nil
}

// saveLocked writes the ring atomically: temp file in the same directory,
// fsync, then rename over the old file. Mode 0600 throughout. Every save
// generates a fresh salt and re-derives the master key, so each persisted
// generation of the file is sealed independently of the last.
func (r *KeyRing) saveLocked() error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to generate salt")
	}
	masterAEAD, err := r.deriveMaster(salt)
	if err != nil {
		return err
	}

	file := ringFile{
		Salt:            base64.StdEncoding.EncodeToString(salt),
		Keys:            make(map[string]storedKey, len(r.keys)),
		ActiveKeyID:     r.activeKeyID,
		EncryptionCount: r.encryptionCount,
	}

	for id, key := range r.keys {
		sealed, err := sealAEAD(masterAEAD, key.material)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to seal key material")
		}
		file.Keys[id] = storedKey{
			EncryptedData: base64.StdEncoding.EncodeToString(sealed),
			Metadata: keyMetadata{
				KeyID:     id,
				CreatedAt: key.createdAt,
				IsActive:  key.isActive,
			},
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode key ring")
	}

	path := filepath.Join(r.cfg.StorePath, ringFileName)
	tmp, err := os.CreateTemp(r.cfg.StorePath, ringFileName+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to create temp ring file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.KindInternal, "failed to set ring file mode")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.KindInternal, "failed to write ring file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.KindInternal, "failed to sync ring file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to close ring file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to replace ring file")
	}

	r.opsSinceSave = 0
	return nil
}

// ================================================================================
// AEAD helpers
// ================================================================================

func newAEAD(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealAEAD encrypts plaintext and prefixes the random nonce.
func sealAEAD(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openAEAD decrypts nonce-prefixed ciphertext.
func openAEAD(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}

package crypto

import (
	"encoding/base64"
	"encoding/json"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/errors"
)

// FieldCipher seals and opens individual sensitive values against the key
// ring. Sealing is explicit at the persistence boundary: repositories call
// Seal before a write and Open after a read, so it is always visible in the
// code which values are protected.
type FieldCipher struct {
	ring *KeyRing
}

// NewFieldCipher wraps the key ring for field-level use.
func NewFieldCipher(ring *KeyRing) *FieldCipher {
	return &FieldCipher{ring: ring}
}

// Seal encrypts a string value under the active key.
func (c *FieldCipher) Seal(value string) (models.Envelope, error) {
	return c.SealBytes([]byte(value))
}

// SealBytes encrypts raw bytes under the active key.
func (c *FieldCipher) SealBytes(value []byte) (models.Envelope, error) {
	keyID, ct, err := c.ring.EncryptWithActive(value)
	if err != nil {
		return models.Envelope{}, err
	}
	return models.Envelope{
		KeyID:      keyID,
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// SealJSON marshals v and encrypts the document under the active key.
func (c *FieldCipher) SealJSON(v interface{}) (models.Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return models.Envelope{}, errors.Wrap(err, errors.KindInternal, "failed to encode value for sealing")
	}
	return c.SealBytes(data)
}

// Open decrypts an envelope back to its string value.
func (c *FieldCipher) Open(env models.Envelope) (string, error) {
	pt, err := c.OpenBytes(env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// OpenBytes decrypts an envelope back to raw bytes. A missing key or corrupt
// ciphertext surfaces as an integrity error; read paths degrade it to
// absence rather than returning garbage.
func (c *FieldCipher) OpenBytes(env models.Envelope) ([]byte, error) {
	if env.IsZero() {
		return nil, nil
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errors.ErrDecryptionFailed(env.KeyID, err)
	}
	return c.ring.Decrypt(env.KeyID, ct)
}

// OpenJSON decrypts an envelope and unmarshals the document into v.
func (c *FieldCipher) OpenJSON(env models.Envelope, v interface{}) error {
	pt, err := c.OpenBytes(env)
	if err != nil {
		return err
	}
	if pt == nil {
		return nil
	}
	if err := json.Unmarshal(pt, v); err != nil {
		return errors.ErrDecryptionFailed(env.KeyID, err)
	}
	return nil
}

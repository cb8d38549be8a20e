// Package models defines the domain entities for the credcore service.
package models

// Envelope is a ciphertext tagged with the identifier of the ring key that
// produced it. It is the only form in which sensitive values are persisted,
// whether in the cache store or in durable columns.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Ciphertext string `json:"ciphertext"`
}

// IsZero reports whether the envelope holds no ciphertext.
func (e Envelope) IsZero() bool {
	return e.KeyID == "" && e.Ciphertext == ""
}

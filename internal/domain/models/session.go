package models

import "time"

// Session is the cache-resident session entity. It lives in the fast cache
// store under a sliding TTL and is mirrored into the durable store as a
// UserSession row with a fixed expiry for crash recovery.
type Session struct {
	SessionID      string                 `json:"session_id"`
	UserID         string                 `json:"user_id"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	Data           map[string]interface{} `json:"data"`
}

// NewSession creates a cache session for a verified user.
func NewSession(sessionID, userID string, data map[string]interface{}) *Session {
	now := time.Now().UTC()
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Session{
		SessionID:      sessionID,
		UserID:         userID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Data:           data,
	}
}

// Username returns the username bound to the session, if any.
func (s *Session) Username() string {
	if v, ok := s.Data["username"].(string); ok {
		return v
	}
	return ""
}

// Touch updates the last access timestamp. Called on every read so the
// sliding TTL reflects real activity.
func (s *Session) Touch() {
	s.LastAccessedAt = time.Now().UTC()
}

// Merge folds new fields into the session data map, overwriting existing keys.
func (s *Session) Merge(data map[string]interface{}) {
	for k, v := range data {
		s.Data[k] = v
	}
	s.Touch()
}

package models

import "time"

// DeviceRecord tracks a device a user has authenticated from. Records live
// in the fast cache store under a long TTL; a device unseen for the whole
// window simply ages out.
type DeviceRecord struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"user_id"`
	UserAgent   string    `json:"user_agent"`
	IPAddress   string    `json:"ip_address"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	SeenCount   int64     `json:"seen_count"`
}

// NewDeviceRecord creates a record for a device's first appearance.
func NewDeviceRecord(fingerprint, userID, userAgent, ipAddress string) *DeviceRecord {
	now := time.Now().UTC()
	return &DeviceRecord{
		Fingerprint: fingerprint,
		UserID:      userID,
		UserAgent:   userAgent,
		IPAddress:   ipAddress,
		FirstSeenAt: now,
		LastSeenAt:  now,
		SeenCount:   1,
	}
}

// MarkSeen records another appearance of the device.
func (d *DeviceRecord) MarkSeen(ipAddress string) {
	d.LastSeenAt = time.Now().UTC()
	d.IPAddress = ipAddress
	d.SeenCount++
}

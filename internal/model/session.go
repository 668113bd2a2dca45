package model

import (
	"fmt"
	"time"

	"github.com/and161185/carecard/internal/errs"
)

// Role is the kind of principal a session belongs to.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClinic Role = "clinic"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleClinic:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, errs.ErrInvalidRole)
	}
}

// Session is the locally held record of who is authenticated and when they were last active.
// JSON field names are the persisted format shared by every instance on the profile.
type Session struct {
	Role         Role      `json:"role"`
	Identity     string    `json:"identity"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// SyncStatus is the coarse global sync indicator.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
	SyncOffline SyncStatus = "offline"
)

// SyncState is a snapshot of the sync engine. LastSyncedAt is zero when never synced.
type SyncState struct {
	Status       SyncStatus
	LastSyncedAt time.Time
}

// Collection names a tracked remote collection.
type Collection string

const (
	CollectionCards           Collection = "cards"
	CollectionClinics         Collection = "clinics"
	CollectionAppointments    Collection = "appointments"
	CollectionPerks           Collection = "perks"
	CollectionPerkRedemptions Collection = "perk_redemptions"
)

// Collections lists every tracked collection in a stable order.
func Collections() []Collection {
	return []Collection{
		CollectionCards,
		CollectionClinics,
		CollectionAppointments,
		CollectionPerks,
		CollectionPerkRedemptions,
	}
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	for _, c := range Collections() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, errs.ErrUnknownCollection)
}

// ChangeNotification signals that a collection changed remotely. It carries no data.
type ChangeNotification struct {
	Collection Collection
	OccurredAt time.Time
}

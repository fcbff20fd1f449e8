package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no matching row exists.
var ErrNotFound = errors.New("not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Bot roles in a destination chat, as reported by the transport.
const (
	RoleAdministrator = "administrator"
	RoleMember        = "member"
	RoleRestricted    = "restricted"
	RoleLeft          = "left"
	RoleKicked        = "kicked"
)

// PermissionUser.Status values.
const (
	UserActive  = "ACTIVE"
	UserBlocked = "BLOCKED"
)

// PermissionUser.Role values.
const (
	RoleAdmin      = "ADMIN"
	RoleMemberUser = "MEMBER"
)

// AccessRequest.Status values.
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"
)

// Channel is the live membership record of one destination chat.
// At most one non-deleted row per ChatID.
type Channel struct {
	ChatID        int64
	Title         string
	Kind          string
	NewRole       string
	OldRole       string
	ChangedByID   int64
	ChangedByName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChannelHistory is an immutable snapshot of a Channel taken at each
// live-table mutation. Append-only.
type ChannelHistory struct {
	ChatID        int64
	Title         string
	Kind          string
	NewRole       string
	OldRole       string
	ChangedByID   int64
	ChangedByName string
	Deleted       bool
	CreatedAt     time.Time
}

// SendRecord is one completed send into a destination. Append-only.
type SendRecord struct {
	ChatID      int64
	UserID      int64
	UserName    string
	ChatTitle   string
	MessageID   int
	DispatchID  string
	TextExcerpt string // empty means absent
	CreatedAt   time.Time
}

// PermissionUser is a grantable member of the bot.
type PermissionUser struct {
	UserID    int64
	UserName  string
	Status    string
	Role      string
	CreatedAt time.Time
}

// AccessRequest is a pending/terminal access ask. One live row per user;
// a re-request replaces the terminal row with a fresh pending one.
type AccessRequest struct {
	UserID    int64
	UserName  string
	Status    string
	CreatedAt time.Time
}

const timeLayout = "2006-01-02 15:04:05.000"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

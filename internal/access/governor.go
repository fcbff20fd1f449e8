// Package access gates every relay operation behind a two-tier
// permission model: fixed administrators from config plus grantable
// members driven by a request/approve/reject workflow.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// Governor answers "may this user act?" and drives the access-request
// state machine. Administrators are defined out-of-band by config and
// never need a stored permission record.
type Governor struct {
	store *storage.Store
	log   logx.Logger

	mu     sync.RWMutex
	admins map[int64]struct{}
}

func New(store *storage.Store, admins []int64, log logx.Logger) *Governor {
	if log.IsZero() {
		log = logx.Nop()
	}
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return &Governor{store: store, admins: set, log: log}
}

// SetAdmins replaces the fixed administrator list (config hot reload).
func (g *Governor) SetAdmins(admins []int64) {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	g.mu.Lock()
	g.admins = set
	g.mu.Unlock()
}

// IsAdmin reports membership in the fixed administrator list only.
func (g *Governor) IsAdmin(userID int64) bool {
	g.mu.RLock()
	_, ok := g.admins[userID]
	g.mu.RUnlock()
	return ok
}

// HasAccess reports whether the user is an administrator or an active member.
func (g *Governor) HasAccess(ctx context.Context, userID int64) bool {
	if g.IsAdmin(userID) {
		return true
	}
	u, err := g.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		g.log.Error("user lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return u.Status == storage.UserActive
}

// RequestAccess records a pending access request. Users that already
// have access are a no-op (the caller should route them to the main
// flow instead). Any prior terminal request is replaced.
func (g *Governor) RequestAccess(ctx context.Context, userID int64, userName string) error {
	if g.HasAccess(ctx, userID) {
		return nil
	}
	return g.store.SaveAccessRequest(ctx, storage.AccessRequest{
		UserID:   userID,
		UserName: userName,
		Status:   storage.RequestPending,
	})
}

// Approve marks the user's request approved and grants an active member
// record copying the request's user name. Fails with storage.ErrNotFound
// when no request exists: approval must follow a recorded request.
func (g *Governor) Approve(ctx context.Context, userID int64) error {
	req, err := g.store.GetAccessRequest(ctx, userID)
	if err != nil {
		return fmt.Errorf("approve user %d: %w", userID, err)
	}
	if err := g.store.UpdateRequestStatus(ctx, userID, storage.RequestApproved); err != nil {
		return err
	}
	err = g.store.SaveUser(ctx, storage.PermissionUser{
		UserID:   userID,
		UserName: req.UserName,
		Status:   storage.UserActive,
		Role:     storage.RoleMemberUser,
	})
	if err != nil {
		return err
	}
	g.log.Info("access granted", logx.Int64("user_id", userID), logx.String("user_name", req.UserName))
	return nil
}

// Reject marks the user's request rejected. The permission record, if
// any, is untouched.
func (g *Governor) Reject(ctx context.Context, userID int64) error {
	if err := g.store.UpdateRequestStatus(ctx, userID, storage.RequestRejected); err != nil {
		return err
	}
	g.log.Info("access rejected", logx.Int64("user_id", userID))
	return nil
}

// SetBlocked blocks a member. Unknown users are a no-op.
func (g *Governor) SetBlocked(ctx context.Context, userID int64) error {
	return g.store.UpdateUserStatus(ctx, userID, storage.UserBlocked)
}

// SetActive re-activates a member. Unknown users are a no-op.
func (g *Governor) SetActive(ctx context.Context, userID int64) error {
	return g.store.UpdateUserStatus(ctx, userID, storage.UserActive)
}

// PendingRequests lists requests still awaiting a decision.
func (g *Governor) PendingRequests(ctx context.Context) ([]storage.AccessRequest, error) {
	return g.store.ListPendingRequests(ctx)
}

// Users lists all grantable members.
func (g *Governor) Users(ctx context.Context) ([]storage.PermissionUser, error) {
	return g.store.ListUsers(ctx)
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"relaybot/pkg/logx"
)

type userRow struct {
	UserID    int64  `db:"user_id"`
	UserName  string `db:"user_name"`
	Status    string `db:"status"`
	Role      string `db:"role"`
	CreatedAt string `db:"created_at"`
}

func (r userRow) toUser() PermissionUser {
	return PermissionUser{
		UserID:    r.UserID,
		UserName:  r.UserName,
		Status:    r.Status,
		Role:      r.Role,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

// SaveUser inserts or replaces a permission user.
func (s *Store) SaveUser(ctx context.Context, u PermissionUser) error {
	if u.UserID == 0 {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(u.UserName) == "" {
		return fmt.Errorf("user %d: user name is required", u.UserID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, user_name, status, role, created_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   user_name=excluded.user_name, status=excluded.status, role=excluded.role`,
		u.UserID, u.UserName, u.Status, u.Role, formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.UserID, err)
	}
	s.log.Debug("user saved", logx.Int64("user_id", u.UserID), logx.String("user_name", u.UserName))
	return nil
}

// UpdateUserStatus changes the status of a known user.
// Unknown users are a no-op.
func (s *Store) UpdateUserStatus(ctx context.Context, userID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET status=? WHERE user_id=?`, status, userID)
	if err != nil {
		return fmt.Errorf("update status of user %d: %w", userID, err)
	}
	return nil
}

// GetUser returns the permission record for userID.
func (s *Store) GetUser(ctx context.Context, userID int64) (PermissionUser, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE user_id=?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionUser{}, ErrNotFound
	}
	if err != nil {
		return PermissionUser{}, err
	}
	return row.toUser(), nil
}

// ListUsers returns all permission users ordered by user id.
func (s *Store) ListUsers(ctx context.Context) ([]PermissionUser, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	out := make([]PermissionUser, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toUser())
	}
	return out, nil
}

type requestRow struct {
	UserID    int64  `db:"user_id"`
	UserName  string `db:"user_name"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
}

func (r requestRow) toRequest() AccessRequest {
	return AccessRequest{
		UserID:    r.UserID,
		UserName:  r.UserName,
		Status:    r.Status,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

// SaveAccessRequest inserts or replaces the single live request row for
// the user. A re-request after approval/rejection overwrites the
// terminal row with a fresh one.
func (s *Store) SaveAccessRequest(ctx context.Context, r AccessRequest) error {
	if r.UserID == 0 {
		return errors.New("access request: user id is required")
	}
	if strings.TrimSpace(r.UserName) == "" {
		return fmt.Errorf("access request for user %d: user name is required", r.UserID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_requests (user_id, user_name, status, created_at)
		 VALUES (?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   user_name=excluded.user_name, status=excluded.status, created_at=excluded.created_at`,
		r.UserID, r.UserName, r.Status, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save access request for user %d: %w", r.UserID, err)
	}
	s.log.Debug("access request saved", logx.Int64("user_id", r.UserID), logx.String("user_name", r.UserName))
	return nil
}

// UpdateRequestStatus changes the status of the user's request.
func (s *Store) UpdateRequestStatus(ctx context.Context, userID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE access_requests SET status=? WHERE user_id=?`, status, userID)
	if err != nil {
		return fmt.Errorf("update access request of user %d: %w", userID, err)
	}
	return nil
}

// GetAccessRequest returns the request row for userID.
func (s *Store) GetAccessRequest(ctx context.Context, userID int64) (AccessRequest, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM access_requests WHERE user_id=?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return AccessRequest{}, ErrNotFound
	}
	if err != nil {
		return AccessRequest{}, err
	}
	return row.toRequest(), nil
}

// ListPendingRequests returns requests still awaiting a decision.
func (s *Store) ListPendingRequests(ctx context.Context) ([]AccessRequest, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM access_requests WHERE status=? ORDER BY created_at, user_id`, RequestPending)
	if err != nil {
		return nil, err
	}
	out := make([]AccessRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRequest())
	}
	return out, nil
}

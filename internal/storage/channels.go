package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/pkg/logx"
)

type channelRow struct {
	ChatID        int64          `db:"chat_id"`
	Title         string         `db:"title"`
	Kind          string         `db:"kind"`
	NewRole       string         `db:"new_role"`
	OldRole       sql.NullString `db:"old_role"`
	ChangedByID   int64          `db:"changed_by_id"`
	ChangedByName string         `db:"changed_by_name"`
	Deleted       int            `db:"deleted"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     sql.NullString `db:"updated_at"`
}

func (r channelRow) toChannel() Channel {
	return Channel{
		ChatID:        r.ChatID,
		Title:         r.Title,
		Kind:          r.Kind,
		NewRole:       r.NewRole,
		OldRole:       r.OldRole.String,
		ChangedByID:   r.ChangedByID,
		ChangedByName: r.ChangedByName,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt.String),
	}
}

func (r channelRow) toHistory() ChannelHistory {
	return ChannelHistory{
		ChatID:        r.ChatID,
		Title:         r.Title,
		Kind:          r.Kind,
		NewRole:       r.NewRole,
		OldRole:       r.OldRole.String,
		ChangedByID:   r.ChangedByID,
		ChangedByName: r.ChangedByName,
		Deleted:       r.Deleted == 1,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

// UpsertChannel inserts or updates the live membership row for
// ch.ChatID and appends one history snapshot, in a single transaction.
// The history table must record exactly one row per live mutation.
func (s *Store) UpsertChannel(ctx context.Context, ch Channel) error {
	if ch.ChatID == 0 {
		return errors.New("channel chat id is required")
	}
	if strings.TrimSpace(ch.Title) == "" {
		return fmt.Errorf("channel %d: title is required", ch.ChatID)
	}
	if strings.TrimSpace(ch.NewRole) == "" {
		return fmt.Errorf("channel %d: role is required", ch.ChatID)
	}
	if strings.TrimSpace(ch.ChangedByName) == "" {
		return fmt.Errorf("channel %d: acting user name is required", ch.ChatID)
	}

	now := formatTime(time.Now())
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels
		   (chat_id, title, kind, new_role, old_role, changed_by_id, changed_by_name, deleted, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,0,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title=excluded.title, kind=excluded.kind,
		   new_role=excluded.new_role, old_role=excluded.old_role,
		   changed_by_id=excluded.changed_by_id, changed_by_name=excluded.changed_by_name,
		   deleted=0, updated_at=excluded.updated_at`,
		ch.ChatID, ch.Title, ch.Kind, ch.NewRole, nullStr(ch.OldRole),
		ch.ChangedByID, ch.ChangedByName, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert channel %d: %w", ch.ChatID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channel_history
		   (chat_id, title, kind, new_role, old_role, changed_by_id, changed_by_name, deleted, created_at)
		 VALUES (?,?,?,?,?,?,?,0,?)`,
		ch.ChatID, ch.Title, ch.Kind, ch.NewRole, nullStr(ch.OldRole),
		ch.ChangedByID, ch.ChangedByName, now,
	)
	if err != nil {
		return fmt.Errorf("append channel history %d: %w", ch.ChatID, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("channel saved", logx.Int64("chat_id", ch.ChatID), logx.String("title", ch.Title))
	return nil
}

// SoftDeleteChannel marks the live row deleted and appends one history
// snapshot reflecting the post-delete state. Roles are kept as last
// recorded. Returns false without writing history when no row exists.
func (s *Store) SoftDeleteChannel(ctx context.Context, chatID int64) (bool, error) {
	if chatID == 0 {
		return false, errors.New("channel chat id is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var row channelRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM channels WHERE chat_id=?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE channels SET deleted=1, updated_at=? WHERE chat_id=?`, now, chatID); err != nil {
		return false, fmt.Errorf("soft delete channel %d: %w", chatID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_history
		   (chat_id, title, kind, new_role, old_role, changed_by_id, changed_by_name, deleted, created_at)
		 VALUES (?,?,?,?,?,?,?,1,?)`,
		row.ChatID, row.Title, row.Kind, row.NewRole, row.OldRole,
		row.ChangedByID, row.ChangedByName, now,
	); err != nil {
		return false, fmt.Errorf("append channel history %d: %w", chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.log.Debug("channel deleted", logx.Int64("chat_id", chatID))
	return true, nil
}

// GetChannel returns the live (non-deleted) record for chatID.
func (s *Store) GetChannel(ctx context.Context, chatID int64) (Channel, error) {
	var row channelRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM channels WHERE chat_id=? AND deleted=0`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	return row.toChannel(), nil
}

// ListChannels returns all live records ordered by chat id.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	var rows []channelRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM channels WHERE deleted=0 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChannel())
	}
	return out, nil
}

// ListChannelHistory returns the most recent history snapshots, newest first.
func (s *Store) ListChannelHistory(ctx context.Context, limit int) ([]ChannelHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []channelRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chat_id, title, kind, new_role, old_role, changed_by_id, changed_by_name, deleted, created_at
		 FROM channel_history ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toHistory())
	}
	return out, nil
}

type sendRow struct {
	ChatID      int64          `db:"chat_id"`
	UserID      int64          `db:"user_id"`
	UserName    string         `db:"user_name"`
	ChatTitle   string         `db:"chat_title"`
	MessageID   int            `db:"message_id"`
	DispatchID  sql.NullString `db:"dispatch_id"`
	TextExcerpt sql.NullString `db:"text_excerpt"`
	CreatedAt   string         `db:"created_at"`
}

// AppendSend records one confirmed physical send. Never retried or rewritten.
func (s *Store) AppendSend(ctx context.Context, r SendRecord) error {
	if r.ChatID == 0 {
		return errors.New("send record: chat id is required")
	}
	if r.UserID == 0 {
		return errors.New("send record: user id is required")
	}
	if strings.TrimSpace(r.UserName) == "" {
		return errors.New("send record: user name is required")
	}
	if strings.TrimSpace(r.ChatTitle) == "" {
		return errors.New("send record: chat title is required")
	}
	if r.MessageID == 0 {
		return errors.New("send record: message id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_history
		   (chat_id, user_id, user_name, chat_title, message_id, dispatch_id, text_excerpt, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		r.ChatID, r.UserID, r.UserName, r.ChatTitle, r.MessageID,
		nullStr(r.DispatchID), nullStr(r.TextExcerpt), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append send record for chat %d: %w", r.ChatID, err)
	}
	return nil
}

// ListSendHistory returns all send records, newest first.
func (s *Store) ListSendHistory(ctx context.Context) ([]SendRecord, error) {
	var rows []sendRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM send_history ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]SendRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, SendRecord{
			ChatID:      r.ChatID,
			UserID:      r.UserID,
			UserName:    r.UserName,
			ChatTitle:   r.ChatTitle,
			MessageID:   r.MessageID,
			DispatchID:  r.DispatchID.String,
			TextExcerpt: r.TextExcerpt.String,
			CreatedAt:   parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

// PruneSendHistory deletes send records older than cutoff.
func (s *Store) PruneSendHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM send_history WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneChannelHistory deletes membership snapshots older than cutoff.
func (s *Store) PruneChannelHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_history WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

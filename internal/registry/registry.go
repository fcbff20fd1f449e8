// Package registry tracks the destinations the bot currently belongs
// to. It is driven by the transport's membership-change notifications
// and owns the two audit logs: membership history and send history.
package registry

import (
	"context"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// DefaultHistoryLimit bounds ListHistory reads. The cap keeps the
// history menu to one screen; it is a display bound, not a retention
// policy.
const DefaultHistoryLimit = 20

// ExcerptLen is the number of leading characters of a sent text or
// caption kept in the send audit log.
const ExcerptLen = 50

type Registry struct {
	store        *storage.Store
	log          logx.Logger
	historyLimit int
}

func New(store *storage.Store, historyLimit int, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{store: store, log: log, historyLimit: historyLimit}
}

// OnMembershipChanged applies one transport membership notification.
//
// administrator/member/restricted upsert the live record; left/kicked
// soft-delete it. Both paths append exactly one history snapshot inside
// the store transaction. Unrecognized roles are logged and ignored so
// new transport-side roles cannot corrupt state.
func (r *Registry) OnMembershipChanged(ctx context.Context, ch transport.MembershipChange) error {
	r.log.Debug("bot role changed",
		logx.Int64("chat_id", ch.ChatID),
		logx.String("title", ch.Title),
		logx.String("old_role", ch.OldRole),
		logx.String("new_role", ch.NewRole),
	)

	switch ch.NewRole {
	case storage.RoleAdministrator, storage.RoleMember, storage.RoleRestricted:
		return r.store.UpsertChannel(ctx, storage.Channel{
			ChatID:        ch.ChatID,
			Title:         ch.Title,
			Kind:          ch.Kind,
			NewRole:       ch.NewRole,
			OldRole:       ch.OldRole,
			ChangedByID:   ch.ByUserID,
			ChangedByName: ch.ByUserName,
		})
	case storage.RoleLeft, storage.RoleKicked:
		deleted, err := r.store.SoftDeleteChannel(ctx, ch.ChatID)
		if err != nil {
			return err
		}
		if !deleted {
			r.log.Debug("left chat was not tracked", logx.Int64("chat_id", ch.ChatID))
		}
		return nil
	default:
		r.log.Warn("unrecognized bot role, ignoring",
			logx.Int64("chat_id", ch.ChatID), logx.String("role", ch.NewRole))
		return nil
	}
}

// ListLive returns all destinations the bot can currently send into.
// Order is stable (by chat id) within one call.
func (r *Registry) ListLive(ctx context.Context) ([]storage.Channel, error) {
	return r.store.ListChannels(ctx)
}

// ListHistory returns the most recent membership snapshots, newest first.
func (r *Registry) ListHistory(ctx context.Context) ([]storage.ChannelHistory, error) {
	return r.store.ListChannelHistory(ctx, r.historyLimit)
}

// RecordSend appends one audit row for a physically confirmed send.
// Only the first ExcerptLen characters of fullText survive; a blank
// text yields an absent excerpt.
func (r *Registry) RecordSend(ctx context.Context, chatID, userID int64, userName, chatTitle string, messageID int, dispatchID, fullText string) error {
	return r.store.AppendSend(ctx, storage.SendRecord{
		ChatID:      chatID,
		UserID:      userID,
		UserName:    userName,
		ChatTitle:   chatTitle,
		MessageID:   messageID,
		DispatchID:  dispatchID,
		TextExcerpt: Excerpt(fullText),
	})
}

// ListSendHistory returns the full send audit log, newest first.
func (r *Registry) ListSendHistory(ctx context.Context) ([]storage.SendRecord, error) {
	return r.store.ListSendHistory(ctx)
}

// Excerpt truncates s to ExcerptLen runes. Blank input stays empty.
func Excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= ExcerptLen {
		return s
	}
	return string(runes[:ExcerptLen])
}

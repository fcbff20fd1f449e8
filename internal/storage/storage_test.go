package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChannel(chatID int64) Channel {
	return Channel{
		ChatID:        chatID,
		Title:         "News Feed",
		Kind:          "channel",
		NewRole:       RoleAdministrator,
		OldRole:       RoleLeft,
		ChangedByID:   42,
		ChangedByName: "operator",
	}
}

func TestUpsertChannelWritesHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertChannel(ctx, testChannel(-100500)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ch, err := s.GetChannel(ctx, -100500)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ch.Title != "News Feed" || ch.NewRole != RoleAdministrator {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	// Second upsert mutates the live row and appends a second snapshot.
	upd := testChannel(-100500)
	upd.NewRole = RoleRestricted
	upd.OldRole = RoleAdministrator
	if err := s.UpsertChannel(ctx, upd); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	live, err := s.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live row, got %d", len(live))
	}
	if live[0].NewRole != RoleRestricted {
		t.Fatalf("live row not updated: %+v", live[0])
	}

	hist, err := s.ListChannelHistory(ctx, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	// Newest first.
	if hist[0].NewRole != RoleRestricted || hist[1].NewRole != RoleAdministrator {
		t.Fatalf("unexpected history order: %+v", hist)
	}
}

func TestUpsertChannelValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := testChannel(0)
	if err := s.UpsertChannel(ctx, bad); err == nil {
		t.Fatal("expected error for zero chat id")
	}

	bad = testChannel(-1)
	bad.Title = "  "
	if err := s.UpsertChannel(ctx, bad); err == nil {
		t.Fatal("expected error for blank title")
	}

	bad = testChannel(-1)
	bad.ChangedByName = ""
	if err := s.UpsertChannel(ctx, bad); err == nil {
		t.Fatal("expected error for missing actor name")
	}

	if hist, _ := s.ListChannelHistory(ctx, 100); len(hist) != 0 {
		t.Fatalf("rejected writes must leave no history, got %d rows", len(hist))
	}
}

func TestSoftDeleteChannel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertChannel(ctx, testChannel(-7)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := s.SoftDeleteChannel(ctx, -7)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Fatal("expected deletion of a tracked channel")
	}

	if _, err := s.GetChannel(ctx, -7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	hist, err := s.ListChannelHistory(ctx, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected join+leave snapshots, got %d", len(hist))
	}
	if !hist[0].Deleted {
		t.Fatalf("newest snapshot should be the removal: %+v", hist[0])
	}

	// Deleting an untracked channel is a reported no-op, not an error.
	ok, err = s.SoftDeleteChannel(ctx, -8)
	if err != nil {
		t.Fatalf("delete untracked: %v", err)
	}
	if ok {
		t.Fatal("untracked delete must report false")
	}

	// Rejoining resurrects the live row.
	if err := s.UpsertChannel(ctx, testChannel(-7)); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if _, err := s.GetChannel(ctx, -7); err != nil {
		t.Fatalf("expected live row after rejoin: %v", err)
	}
}

func TestAppendSendExcerptNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SendRecord{
		ChatID: -1, UserID: 5, UserName: "op", ChatTitle: "Feed",
		MessageID: 10, DispatchID: "d1", TextExcerpt: "",
	}
	if err := s.AppendSend(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec.MessageID = 11
	rec.TextExcerpt = "hello"
	if err := s.AppendSend(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := s.ListSendHistory(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	var blank, text int
	for _, r := range rows {
		if r.TextExcerpt == "" {
			blank++
		} else {
			text++
		}
	}
	if blank != 1 || text != 1 {
		t.Fatalf("excerpt handling wrong: %+v", rows)
	}
}

func TestAppendSendValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := SendRecord{ChatID: 0, UserID: 5, UserName: "op", ChatTitle: "Feed", MessageID: 1}
	if err := s.AppendSend(ctx, bad); err == nil {
		t.Fatal("expected error for zero chat id")
	}
	bad = SendRecord{ChatID: -1, UserID: 5, UserName: "", ChatTitle: "Feed", MessageID: 1}
	if err := s.AppendSend(ctx, bad); err == nil {
		t.Fatal("expected error for missing user name")
	}
}

func TestPruneHistories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertChannel(ctx, testChannel(-1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AppendSend(ctx, SendRecord{ChatID: -1, UserID: 1, UserName: "op", ChatTitle: "Feed", MessageID: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A cutoff in the past removes nothing.
	n, err := s.PruneSendHistory(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("prune past cutoff: n=%d err=%v", n, err)
	}

	// A cutoff in the future removes everything.
	n, err = s.PruneSendHistory(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune send: n=%d err=%v", n, err)
	}
	n, err = s.PruneChannelHistory(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune channel: n=%d err=%v", n, err)
	}

	// The live channel row survives pruning.
	if _, err := s.GetChannel(ctx, -1); err != nil {
		t.Fatalf("live row pruned: %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := PermissionUser{UserID: 9, UserName: "alice", Status: UserActive, Role: RoleMemberUser}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.UpdateUserStatus(ctx, 9, UserBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}
	got, err := s.GetUser(ctx, 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != UserBlocked {
		t.Fatalf("expected BLOCKED, got %q", got.Status)
	}

	// Unknown user id is a silent no-op.
	if err := s.UpdateUserStatus(ctx, 404, UserBlocked); err != nil {
		t.Fatalf("update unknown: %v", err)
	}
	if _, err := s.GetUser(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccessRequestReentry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveAccessRequest(ctx, AccessRequest{UserID: 3, UserName: "bob", Status: RequestPending}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.UpdateRequestStatus(ctx, 3, RequestRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	pending, err := s.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rejected request still pending: %+v", pending)
	}

	// A fresh ask replaces the terminal row.
	if err := s.SaveAccessRequest(ctx, AccessRequest{UserID: 3, UserName: "bob", Status: RequestPending}); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	pending, err = s.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].UserID != 3 {
		t.Fatalf("expected one pending request for user 3, got %+v", pending)
	}
}

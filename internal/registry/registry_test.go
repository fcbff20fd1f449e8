package registry

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, 0, logx.Nop())
}

func change(chatID int64, newRole string) transport.MembershipChange {
	return transport.MembershipChange{
		ChatID:     chatID,
		Title:      "Feed",
		Kind:       "channel",
		NewRole:    newRole,
		OldRole:    storage.RoleLeft,
		ByUserID:   42,
		ByUserName: "operator",
	}
}

func TestMembershipLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.OnMembershipChanged(ctx, change(-1, storage.RoleAdministrator)); err != nil {
		t.Fatalf("join: %v", err)
	}
	live, err := r.ListLive(ctx)
	if err != nil || len(live) != 1 {
		t.Fatalf("expected 1 live destination, got %d (err %v)", len(live), err)
	}

	if err := r.OnMembershipChanged(ctx, change(-1, storage.RoleKicked)); err != nil {
		t.Fatalf("kick: %v", err)
	}
	live, _ = r.ListLive(ctx)
	if len(live) != 0 {
		t.Fatalf("kicked destination still live: %+v", live)
	}

	hist, err := r.ListHistory(ctx)
	if err != nil || len(hist) != 2 {
		t.Fatalf("expected 2 snapshots, got %d (err %v)", len(hist), err)
	}
}

func TestMemberRoleIsTracked(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.OnMembershipChanged(ctx, change(-2, storage.RoleMember)); err != nil {
		t.Fatalf("member join: %v", err)
	}
	live, _ := r.ListLive(ctx)
	if len(live) != 1 || live[0].NewRole != storage.RoleMember {
		t.Fatalf("member role not tracked: %+v", live)
	}
}

func TestUnrecognizedRoleIgnored(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.OnMembershipChanged(ctx, change(-3, "creator")); err != nil {
		t.Fatalf("unrecognized role must not error: %v", err)
	}
	live, _ := r.ListLive(ctx)
	if len(live) != 0 {
		t.Fatalf("unrecognized role mutated state: %+v", live)
	}
	hist, _ := r.ListHistory(ctx)
	if len(hist) != 0 {
		t.Fatalf("unrecognized role wrote history: %+v", hist)
	}
}

func TestLeaveUntrackedIsNoOp(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.OnMembershipChanged(context.Background(), change(-4, storage.RoleLeft)); err != nil {
		t.Fatalf("leave of untracked chat must not error: %v", err)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt(""); got != "" {
		t.Fatalf("blank input must stay blank, got %q", got)
	}
	if got := Excerpt("short"); got != "short" {
		t.Fatalf("short input truncated: %q", got)
	}

	long := strings.Repeat("ab", ExcerptLen)
	got := Excerpt(long)
	if len([]rune(got)) != ExcerptLen {
		t.Fatalf("expected %d runes, got %d", ExcerptLen, len([]rune(got)))
	}
	if !strings.HasPrefix(long, got) {
		t.Fatalf("excerpt is not a prefix: %q", got)
	}

	// Truncation counts runes, not bytes.
	wide := strings.Repeat("п", ExcerptLen+10)
	if got := Excerpt(wide); len([]rune(got)) != ExcerptLen {
		t.Fatalf("multibyte truncation wrong: %d runes", len([]rune(got)))
	}
}

func TestRecordSendTruncates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	long := strings.Repeat("x", 200)
	if err := r.RecordSend(ctx, -1, 5, "op", "Feed", 10, "d1", long); err != nil {
		t.Fatalf("record: %v", err)
	}
	recs, err := r.ListSendHistory(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d (err %v)", len(recs), err)
	}
	if len([]rune(recs[0].TextExcerpt)) != ExcerptLen {
		t.Fatalf("stored excerpt has %d runes", len([]rune(recs[0].TextExcerpt)))
	}
}

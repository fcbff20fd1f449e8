package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relaybot/internal/registry"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type albumCall struct {
	chatID int64
	items  []transport.AlbumItem
}

type copyCall struct {
	chatID int64
	msg    transport.Message
}

// fakeAdapter records sends and can fail for chosen destinations.
type fakeAdapter struct {
	mu      sync.Mutex
	albums  []albumCall
	copies  []copyCall
	failFor map[int64]bool
	nextID  int
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendAlbum(_ context.Context, to transport.ChatTarget, items []transport.AlbumItem) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to.ChatID] {
		return nil, errors.New("chat unavailable")
	}
	f.albums = append(f.albums, albumCall{chatID: to.ChatID, items: items})
	ids := make([]int, len(items))
	for i := range ids {
		f.nextID++
		ids[i] = f.nextID
	}
	return ids, nil
}

func (f *fakeAdapter) SendCopy(_ context.Context, to transport.ChatTarget, msg *transport.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to.ChatID] {
		return 0, errors.New("chat unavailable")
	}
	f.copies = append(f.copies, copyCall{chatID: to.ChatID, msg: *msg})
	f.nextID++
	return f.nextID, nil
}

func newTestDispatcher(t *testing.T, fa *fakeAdapter) (*Dispatcher, *registry.Registry) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, 0, logx.Nop())
	d := New(Config{RatePerSec: 1000}, fa, reg, logx.Nop())
	return d, reg
}

func dest(chatID int64, title string) storage.Channel {
	return storage.Channel{ChatID: chatID, Title: title, Kind: "channel", NewRole: storage.RoleAdministrator}
}

func photo(id int, fileID, caption string) transport.Message {
	return transport.Message{ID: id, ChatID: 1, FromID: 5, Media: transport.MediaPhoto, MediaFileID: fileID, Caption: caption}
}

func TestAlbumFanOutWithExclusion(t *testing.T) {
	fa := &fakeAdapter{}
	d, reg := newTestDispatcher(t, fa)

	d.Dispatch(context.Background(), Job{
		Messages: []transport.Message{
			photo(1, "f1", ""),
			photo(2, "f2", "the caption"),
			photo(3, "f3", "ignored later caption"),
		},
		Destinations: []storage.Channel{dest(-10, "A"), dest(-20, "B"), dest(-30, "C")},
		Excluded:     map[int64]bool{-20: true},
		UserID:       5,
		UserName:     "op",
	})

	if len(fa.albums) != 2 {
		t.Fatalf("expected 2 album sends, got %d", len(fa.albums))
	}
	for _, call := range fa.albums {
		if call.chatID == -20 {
			t.Fatal("excluded destination received a send")
		}
		if len(call.items) != 3 {
			t.Fatalf("expected 3 album items, got %d", len(call.items))
		}
		// First-wins caption travels on the first captioned item only.
		if call.items[1].Caption != "the caption" || call.items[2].Caption != "" {
			t.Fatalf("caption policy violated: %+v", call.items)
		}
	}

	recs, err := reg.ListSendHistory(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// One audit row per returned message id: 3 items x 2 destinations.
	if len(recs) != 6 {
		t.Fatalf("expected 6 audit rows, got %d", len(recs))
	}
	seen := map[string]bool{}
	for _, r := range recs {
		if r.TextExcerpt != "the caption" {
			t.Fatalf("album rows must carry the shared caption: %+v", r)
		}
		seen[r.DispatchID] = true
	}
	if len(seen) != 1 {
		t.Fatalf("all rows must share one dispatch id, saw %d", len(seen))
	}
}

func TestSingleMessageCopies(t *testing.T) {
	fa := &fakeAdapter{}
	d, reg := newTestDispatcher(t, fa)

	d.Dispatch(context.Background(), Job{
		Messages: []transport.Message{
			{ID: 1, ChatID: 1, FromID: 5, Text: "hello world"},
			{ID: 2, ChatID: 1, FromID: 5, Text: "trailing text never sent"},
		},
		Destinations: []storage.Channel{dest(-10, "A"), dest(-20, "B")},
		UserID:       5,
		UserName:     "op",
	})

	if len(fa.albums) != 0 {
		t.Fatalf("text buffer must not become an album: %d album sends", len(fa.albums))
	}
	if len(fa.copies) != 2 {
		t.Fatalf("expected 2 copy sends, got %d", len(fa.copies))
	}
	for _, c := range fa.copies {
		if c.msg.ID != 1 {
			t.Fatalf("only the first buffered message is copied, sent id %d", c.msg.ID)
		}
	}

	recs, err := reg.ListSendHistory(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(recs))
	}
	for _, r := range recs {
		if r.TextExcerpt != "hello world" {
			t.Fatalf("unexpected excerpt %q", r.TextExcerpt)
		}
	}
}

func TestSingleMediaWithCaptionCopies(t *testing.T) {
	fa := &fakeAdapter{}
	d, reg := newTestDispatcher(t, fa)

	d.Dispatch(context.Background(), Job{
		Messages:     []transport.Message{photo(1, "f1", "lone photo")},
		Destinations: []storage.Channel{dest(-10, "A")},
		UserID:       5,
		UserName:     "op",
	})

	if len(fa.albums) != 0 || len(fa.copies) != 1 {
		t.Fatalf("single media item must copy, albums=%d copies=%d", len(fa.albums), len(fa.copies))
	}
	recs, _ := reg.ListSendHistory(context.Background())
	if len(recs) != 1 || recs[0].TextExcerpt != "lone photo" {
		t.Fatalf("caption must be audited for a copy-send: %+v", recs)
	}
}

func TestFailureIsolation(t *testing.T) {
	fa := &fakeAdapter{failFor: map[int64]bool{-20: true}}
	d, reg := newTestDispatcher(t, fa)

	d.Dispatch(context.Background(), Job{
		Messages:     []transport.Message{{ID: 1, ChatID: 1, FromID: 5, Text: "hi"}},
		Destinations: []storage.Channel{dest(-10, "A"), dest(-20, "B"), dest(-30, "C")},
		UserID:       5,
		UserName:     "op",
	})

	if len(fa.copies) != 2 {
		t.Fatalf("failure must not stop later destinations: %d sends", len(fa.copies))
	}
	recs, _ := reg.ListSendHistory(context.Background())
	if len(recs) != 2 {
		t.Fatalf("failed destination must leave no audit row: %d rows", len(recs))
	}
	for _, r := range recs {
		if r.ChatID == -20 {
			t.Fatalf("audit row for failed destination: %+v", r)
		}
	}
}

func TestEmptyJobIsNoOp(t *testing.T) {
	fa := &fakeAdapter{}
	d, _ := newTestDispatcher(t, fa)

	d.Dispatch(context.Background(), Job{Destinations: []storage.Channel{dest(-10, "A")}})
	d.Dispatch(context.Background(), Job{Messages: []transport.Message{{ID: 1, Text: "x"}}})

	if len(fa.copies) != 0 || len(fa.albums) != 0 {
		t.Fatal("empty job must not send")
	}
}

func TestDelayedDispatchHonorsCancel(t *testing.T) {
	fa := &fakeAdapter{}
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, 0, logx.Nop())
	d := New(Config{Delay: 200 * time.Millisecond, RatePerSec: 1000}, fa, reg, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, Job{
		Messages:     []transport.Message{{ID: 1, ChatID: 1, FromID: 5, Text: "hi"}},
		Destinations: []storage.Channel{dest(-10, "A")},
	})

	if len(fa.copies) != 0 {
		t.Fatal("canceled dispatch must not send")
	}
}

// Package dispatch fans a buffered message set out to the selected
// destinations. Two or more photo/video items become one album send per
// destination; anything else is a single copy-style send of the first
// buffered message. Every physically confirmed send writes one audit
// row; transport failures are logged and isolated per destination.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"relaybot/internal/registry"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	// Delay postpones execution after Dispatch is called, mirroring the
	// settle window so an operator can still cancel mentally before the
	// sends go out. 0 disables the delay.
	Delay time.Duration
	// RatePerSec caps transport calls across all destinations.
	RatePerSec int
}

// Job is one operator-confirmed fan-out.
type Job struct {
	// Messages is the settled buffer, in arrival order.
	Messages []transport.Message
	// Destinations is the live destination snapshot at confirmation time.
	Destinations []storage.Channel
	// Excluded holds destination chat ids toggled out of this send.
	// Identity-keyed on purpose: positions in the destination list can
	// shift under concurrent membership changes.
	Excluded map[int64]bool

	UserID   int64
	UserName string
}

type Dispatcher struct {
	cfg      Config
	adapter  transport.Adapter
	registry *registry.Registry
	limiter  *rate.Limiter
	log      logx.Logger
}

func New(cfg Config, adapter transport.Adapter, reg *registry.Registry, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Dispatcher{
		cfg:      cfg,
		adapter:  adapter,
		registry: reg,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		log:      log,
	}
}

// Dispatch runs the fan-out synchronously (after the configured delay).
// An empty buffer or an empty destination set is a safe no-op. Failures
// never abort the remaining destinations, and no retries are attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) {
	if len(job.Messages) == 0 || len(job.Destinations) == 0 {
		return
	}
	if d.cfg.Delay > 0 {
		select {
		case <-time.After(d.cfg.Delay):
		case <-ctx.Done():
			return
		}
	}

	dispatchID := uuid.NewString()
	log := d.log.With(logx.String("dispatch_id", dispatchID), logx.Int64("user_id", job.UserID))

	album, caption := buildAlbum(job.Messages)

	sent := 0
	for _, dest := range job.Destinations {
		if job.Excluded[dest.ChatID] {
			log.Debug("destination excluded", logx.Int64("chat_id", dest.ChatID))
			continue
		}
		if err := d.sendOne(ctx, log, job, dest, dispatchID, album, caption); err != nil {
			log.Error("send failed",
				logx.Int64("chat_id", dest.ChatID), logx.String("title", dest.Title), logx.Err(err))
			continue
		}
		sent++
	}
	log.Info("dispatch finished", logx.Int("destinations", sent), logx.Int("messages", len(job.Messages)))
}

// Go schedules Dispatch on its own goroutine.
func (d *Dispatcher) Go(ctx context.Context, job Job) {
	go d.Dispatch(ctx, job)
}

func (d *Dispatcher) sendOne(ctx context.Context, log logx.Logger, job Job, dest storage.Channel, dispatchID string, album []transport.AlbumItem, caption string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	to := transport.ChatTarget{ChatID: dest.ChatID}

	// Two or more media items travel as one album; the shared caption is
	// whatever the first captioned item carried.
	if len(album) >= 2 {
		ids, err := d.adapter.SendAlbum(ctx, to, album)
		if err != nil {
			return err
		}
		for _, id := range ids {
			d.record(ctx, log, dest, job, id, dispatchID, caption)
		}
		return nil
	}

	first := job.Messages[0]
	id, err := d.adapter.SendCopy(ctx, to, &first)
	if err != nil {
		return err
	}
	d.record(ctx, log, dest, job, id, dispatchID, messageText(first))
	return nil
}

// record writes one audit row. Audit failures do not undo a send that
// the transport already accepted; they are logged and dropped.
func (d *Dispatcher) record(ctx context.Context, log logx.Logger, dest storage.Channel, job Job, messageID int, dispatchID, text string) {
	err := d.registry.RecordSend(ctx, dest.ChatID, job.UserID, job.UserName, dest.Title, messageID, dispatchID, text)
	if err != nil {
		log.Error("send audit write failed",
			logx.Int64("chat_id", dest.ChatID), logx.Int("message_id", messageID), logx.Err(err))
	}
}

// buildAlbum extracts the photo/video items of the buffer and the
// first non-empty caption. Later captions are discarded; the surviving
// one is attached to the first album item (the transport applies it to
// the album as a whole).
func buildAlbum(messages []transport.Message) ([]transport.AlbumItem, string) {
	var items []transport.AlbumItem
	caption := ""
	for _, m := range messages {
		if m.Media != transport.MediaPhoto && m.Media != transport.MediaVideo {
			continue
		}
		item := transport.AlbumItem{Media: m.Media, FileID: m.MediaFileID}
		if caption == "" && m.Caption != "" {
			caption = m.Caption
			item.Caption = caption
		}
		items = append(items, item)
	}
	return items, caption
}

// messageText returns the audited text of a copy-send: the message text
// or, failing that, its caption.
func messageText(m transport.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

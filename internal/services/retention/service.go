// Package retention prunes the append-only audit logs on a schedule.
// The logs stay append-only from the relay's point of view; only aged
// rows past the configured maximum age are dropped.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string        // cron spec; default "@daily"
	MaxAge   time.Duration // default 720h
}

type Service struct {
	cfg   Config
	store *storage.Store
	log   logx.Logger
	cron  *cron.Cron
}

func New(cfg Config, store *storage.Store, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Debug("retention disabled")
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("retention scheduled",
		logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	sends, err := s.store.PruneSendHistory(ctx, cutoff)
	if err != nil {
		s.log.Error("send history prune failed", logx.Err(err))
	}
	chans, err := s.store.PruneChannelHistory(ctx, cutoff)
	if err != nil {
		s.log.Error("channel history prune failed", logx.Err(err))
	}
	if sends > 0 || chans > 0 {
		s.log.Info("audit logs pruned",
			logx.Int64("send_rows", sends), logx.Int64("membership_rows", chans))
	}
}

// Package router is the command/callback surface of the bot. It gates
// every operation through the access governor, feeds forwarded
// messages into the aggregator, and turns operator confirmations into
// dispatch jobs.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"relaybot/internal/access"
	"relaybot/internal/aggregator"
	"relaybot/internal/dispatch"
	"relaybot/internal/registry"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Router struct {
	adapter    kit.Adapter
	governor   *access.Governor
	registry   *registry.Registry
	aggregator *aggregator.Aggregator
	dispatcher *dispatch.Dispatcher
	log        logx.Logger

	selections *selections

	// runCtx outlives single updates; delayed dispatches hang off it so
	// they survive the request that confirmed them.
	runCtx context.Context
}

func New(adapter kit.Adapter, gov *access.Governor, reg *registry.Registry, agg *aggregator.Aggregator, disp *dispatch.Dispatcher, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:    adapter,
		governor:   gov,
		registry:   reg,
		aggregator: agg,
		dispatcher: disp,
		log:        log,
		selections: newSelections(),
		runCtx:     context.Background(),
	}
}

// SetRunContext installs the long-lived context used for delayed
// dispatch work. Call before the first update.
func (r *Router) SetRunContext(ctx context.Context) { r.runCtx = ctx }

// Handle processes one inbound update. It never panics and never
// returns an error that should stop the update loop.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	start := time.Now()
	err := r.dispatchUpdate(ctx, up)
	if err != nil {
		r.log.Warn("update failed",
			logx.String("kind", string(up.Kind)), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return
	}
	r.log.Debug("update ok",
		logx.String("kind", string(up.Kind)), logx.Duration("dur", time.Since(start)))
}

func (r *Router) dispatchUpdate(ctx context.Context, up kit.Update) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic recovered",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		return r.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return nil
		}
		return r.handleCallback(ctx, up.Callback)
	case kit.UpdateMembership:
		if up.Membership == nil {
			return nil
		}
		return r.registry.OnMembershipChanged(ctx, *up.Membership)
	default:
		r.log.Debug("unhandled update kind", logx.String("kind", string(up.Kind)))
		return nil
	}
}

// OnBurstReady is the aggregator's ready callback: the settle window
// elapsed, so open a fresh destination-selection menu. The selection
// set is reset every time the menu is freshly opened.
func (r *Router) OnBurstReady(chatID int64, msgs []kit.Message) {
	r.selections.Reset(chatID)

	ctx, cancel := context.WithTimeout(r.runCtx, 10*time.Second)
	defer cancel()
	if err := r.showSendMenu(ctx, chatID, 0); err != nil {
		r.log.Error("selection menu failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

package router

import (
	"context"
	"strconv"
	"strings"

	"relaybot/internal/dispatch"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) error {
	if !r.governor.HasAccess(ctx, m.FromID) {
		if m.Forwarded {
			r.log.Warn("forwarded message from user without access", logx.Int64("user_id", m.FromID))
			return nil
		}
		return r.showRequestAccessMenu(ctx, m.ChatID)
	}

	switch m.Text {
	case "/start":
		return r.showMainMenu(ctx, m.ChatID, 0, r.governor.IsAdmin(m.FromID))
	case "/help":
		return r.showHelpMenu(ctx, m.ChatID, 0)
	}

	// Everything else is relay input: forwarded items and plain text
	// alike go through the settle window so an album forwarded as a
	// burst of messages opens a single selection menu.
	r.aggregator.Append(m.ChatID, *m)
	return nil
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) error {
	data := cb.Data

	if data == "menu_request_access" {
		if r.governor.HasAccess(ctx, cb.FromID) {
			return r.showMainMenu(ctx, cb.ChatID, cb.MessageID, r.governor.IsAdmin(cb.FromID))
		}
		if err := r.governor.RequestAccess(ctx, cb.FromID, cb.FromUsername); err != nil {
			return err
		}
		return r.answer(ctx, cb.ID, "Your access request has been sent")
	}

	if !r.governor.HasAccess(ctx, cb.FromID) {
		return r.showRequestAccessMenu(ctx, cb.ChatID)
	}

	switch {
	case strings.HasPrefix(data, "chat_toggle_"):
		dest, err := strconv.ParseInt(strings.TrimPrefix(data, "chat_toggle_"), 10, 64)
		if err != nil {
			r.log.Warn("bad toggle payload", logx.String("data", data))
			return nil
		}
		r.selections.Toggle(cb.ChatID, dest)
		return r.showSendMenu(ctx, cb.ChatID, cb.MessageID)

	// Governance actions are admin-only. The buttons only render for
	// admins, but callback data is client-supplied and can be replayed.
	case strings.HasPrefix(data, "access_request_accept_"):
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.decideRequest(ctx, cb, strings.TrimPrefix(data, "access_request_accept_"), true)

	case strings.HasPrefix(data, "access_request_reject_"):
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.decideRequest(ctx, cb, strings.TrimPrefix(data, "access_request_reject_"), false)

	case strings.HasPrefix(data, "grant_access_blocked_"):
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.setUserStatus(ctx, cb, strings.TrimPrefix(data, "grant_access_blocked_"), false)

	case strings.HasPrefix(data, "grant_access_active_"):
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.setUserStatus(ctx, cb, strings.TrimPrefix(data, "grant_access_active_"), true)
	}

	switch data {
	case "back_to_main":
		return r.showMainMenu(ctx, cb.ChatID, cb.MessageID, r.governor.IsAdmin(cb.FromID))
	case "menu_help":
		return r.showHelpMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_chats":
		return r.showChatsMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_chats_history":
		return r.showChatsHistoryMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_sending_history":
		return r.showSendHistoryMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_access_requests":
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.showAccessRequestsMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_access":
		if !r.governor.IsAdmin(cb.FromID) {
			return r.answer(ctx, cb.ID, "Administrators only")
		}
		return r.showGrantedAccessMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_send":
		return r.showSendMenu(ctx, cb.ChatID, cb.MessageID)
	case "menu_send_message_clear":
		r.aggregator.Clear(cb.ChatID)
		r.selections.Reset(cb.ChatID)
		return r.showMainMenu(ctx, cb.ChatID, cb.MessageID, r.governor.IsAdmin(cb.FromID))
	case "menu_send_message":
		return r.confirmDispatch(ctx, cb)
	default:
		r.log.Warn("unknown callback data", logx.String("data", data))
		return nil
	}
}

// confirmDispatch hands the settled buffer to the dispatcher and resets
// the per-chat cycle. The dispatch itself runs in the background on the
// router's run context; its per-destination outcome never reaches the
// operator beyond the generic acknowledgment.
func (r *Router) confirmDispatch(ctx context.Context, cb *kit.Callback) error {
	buffer := r.aggregator.Buffer(cb.ChatID)
	dests, err := r.registry.ListLive(ctx)
	if err != nil {
		return err
	}

	r.dispatcher.Go(r.runCtx, dispatch.Job{
		Messages:     buffer,
		Destinations: dests,
		Excluded:     r.selections.Excluded(cb.ChatID),
		UserID:       cb.FromID,
		UserName:     cb.FromUsername,
	})

	_ = r.answer(ctx, cb.ID, "✅ Message is being broadcast...")
	r.aggregator.Clear(cb.ChatID)
	r.selections.Reset(cb.ChatID)
	return r.showMainMenu(ctx, cb.ChatID, cb.MessageID, r.governor.IsAdmin(cb.FromID))
}

func (r *Router) decideRequest(ctx context.Context, cb *kit.Callback, rawID string, accept bool) error {
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		r.log.Warn("bad request payload", logx.String("data", cb.Data))
		return nil
	}
	if accept {
		err = r.governor.Approve(ctx, userID)
	} else {
		err = r.governor.Reject(ctx, userID)
	}
	if err != nil {
		return err
	}
	return r.showAccessRequestsMenu(ctx, cb.ChatID, cb.MessageID)
}

func (r *Router) setUserStatus(ctx context.Context, cb *kit.Callback, rawID string, active bool) error {
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		r.log.Warn("bad user payload", logx.String("data", cb.Data))
		return nil
	}
	if active {
		err = r.governor.SetActive(ctx, userID)
	} else {
		err = r.governor.SetBlocked(ctx, userID)
	}
	if err != nil {
		return err
	}
	return r.showGrantedAccessMenu(ctx, cb.ChatID, cb.MessageID)
}

func (r *Router) answer(ctx context.Context, callbackID, text string) error {
	return r.adapter.AnswerCallback(ctx, callbackID, text)
}

package router

import (
	"context"
	"fmt"
	"strconv"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

// render sends a new menu message, or edits an existing one when the
// operator navigated here from a button press.
func (r *Router) render(ctx context.Context, chatID int64, messageID int, text tgui.H, kb *tgui.Inline) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if kb != nil {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	if messageID != 0 {
		return r.adapter.EditText(ctx, kit.MessageRef{ChatID: chatID, MessageID: messageID}, text.String(), opt)
	}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text.String(), opt)
	return err
}

func (r *Router) showMainMenu(ctx context.Context, chatID int64, messageID int, admin bool) error {
	kb := tgui.NewInline()
	if len(r.aggregator.Buffer(chatID)) > 0 {
		kb.Row(tgui.Btn("📤 Send", "menu_send"))
	}
	kb.Row(tgui.Btn("📋 Chats", "menu_chats"), tgui.Btn("🕓 Chats history", "menu_chats_history"))
	kb.Row(tgui.Btn("📨 Sending history", "menu_sending_history"))
	if admin {
		kb.Row(tgui.Btn("🙋 Access requests", "menu_access_requests"), tgui.Btn("🔐 Access", "menu_access"))
	}
	kb.Row(tgui.Btn("❓ Help", "menu_help"))

	body := tgui.Lines(
		tgui.B("Main menu"),
		tgui.Esc("Forward messages to me, then press Send."),
	)
	return r.render(ctx, chatID, messageID, body, kb)
}

func (r *Router) showHelpMenu(ctx context.Context, chatID int64, messageID int) error {
	body := tgui.Lines(
		tgui.B("How it works"),
		tgui.Esc("1. Forward one or more messages to this chat."),
		tgui.Esc("2. Wait a moment; a destination menu appears."),
		tgui.Esc("3. Untick chats you want to skip, then press Send."),
		tgui.Esc("Two or more photos/videos go out as one album; anything else is copied as a single message."),
	)
	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", "back_to_main"))
	return r.render(ctx, chatID, messageID, body, kb)
}

func (r *Router) showRequestAccessMenu(ctx context.Context, chatID int64) error {
	body := tgui.Lines(
		tgui.B("Access required"),
		tgui.Esc("You are not allowed to use this bot yet."),
	)
	kb := tgui.NewInline().Row(tgui.Btn("🙏 Request access", "menu_request_access"))
	return r.render(ctx, chatID, 0, body, kb)
}

// showSendMenu renders the destination-selection menu for the chat's
// pending buffer. Every live channel starts ticked; toggles persist
// until the buffer is sent or cleared.
func (r *Router) showSendMenu(ctx context.Context, chatID int64, messageID int) error {
	buffer := r.aggregator.Buffer(chatID)
	if len(buffer) == 0 {
		body := tgui.Esc("Nothing pending. Forward a message first.")
		kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", "back_to_main"))
		return r.render(ctx, chatID, messageID, body, kb)
	}

	channels, err := r.registry.ListLive(ctx)
	if err != nil {
		return err
	}
	excluded := r.selections.Excluded(chatID)

	kb := tgui.NewInline()
	for _, ch := range channels {
		mark := "✅"
		if excluded[ch.ChatID] {
			mark = "⬜"
		}
		kb.Row(tgui.Btn(mark+" "+ch.Title, "chat_toggle_"+strconv.FormatInt(ch.ChatID, 10)))
	}
	kb.Row(tgui.Btn("🚀 Send now", "menu_send_message"), tgui.Btn("🗑 Clear", "menu_send_message_clear"))
	kb.Row(tgui.Btn("⬅️ Back", "back_to_main"))

	body := tgui.Lines(
		tgui.B("Ready to send"),
		tgui.Esc(fmt.Sprintf("%d message(s) pending. Pick destinations:", len(buffer))),
	)
	return r.render(ctx, chatID, messageID, body, kb)
}

func (r *Router) showChatsMenu(ctx context.Context, chatID int64, messageID int) error {
	channels, err := r.registry.ListLive(ctx)
	if err != nil {
		return err
	}

	parts := []tgui.H{tgui.B("Connected chats")}
	if len(channels) == 0 {
		parts = append(parts, tgui.Esc("No chats yet. Add the bot to a channel or group."))
	}
	for _, ch := range channels {
		parts = append(parts, tgui.Lines(
			tgui.B(ch.Title)+" "+tgui.I("("+ch.Kind+")"),
			tgui.Esc("role: ")+tgui.Code(ch.NewRole)+tgui.Esc(" id: ")+tgui.Code(strconv.FormatInt(ch.ChatID, 10)),
		))
	}

	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", "back_to_main"))
	return r.render(ctx, chatID, messageID, tgui.Lines(parts...), kb)
}

func (r *Router) showChatsHistoryMenu(ctx context.Context, chatID int64, messageID int) error {
	rows, err := r.registry.ListHistory(ctx)
	if err != nil {
		return err
	}

	parts := []tgui.H{tgui.B("Chats history")}
	if len(rows) == 0 {
		parts = append(parts, tgui.Esc("Empty."))
	}
	for _, h := range rows {
		state := "joined"
		if h.Deleted {
			state = "removed"
		}
		parts = append(parts, tgui.Lines(
			tgui.B(h.Title)+" "+tgui.Esc(state),
			tgui.Esc(h.OldRole+" → "+h.NewRole+" by "+h.ChangedByName),
			tgui.I(h.CreatedAt.Format("2006-01-02 15:04:05")),
		))
	}

	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", "back_to_main"))
	return r.render(ctx, chatID, messageID, tgui.Lines(parts...), kb)
}

func (r *Router) showSendHistoryMenu(ctx context.Context, chatID int64, messageID int) error {
	rows, err := r.registry.ListSendHistory(ctx)
	if err != nil {
		return err
	}

	parts := []tgui.H{tgui.B("Sending history")}
	if len(rows) == 0 {
		parts = append(parts, tgui.Esc("Nothing sent yet."))
	}
	for _, rec := range rows {
		excerpt := rec.TextExcerpt
		if excerpt == "" {
			excerpt = "(media)"
		}
		parts = append(parts, tgui.Lines(
			tgui.B(rec.ChatTitle)+" "+tgui.Esc("by "+rec.UserName),
			tgui.I(excerpt),
			tgui.I(rec.CreatedAt.Format("2006-01-02 15:04:05")),
		))
	}

	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", "back_to_main"))
	return r.render(ctx, chatID, messageID, tgui.Lines(parts...), kb)
}

func (r *Router) showAccessRequestsMenu(ctx context.Context, chatID int64, messageID int) error {
	reqs, err := r.governor.PendingRequests(ctx)
	if err != nil {
		return err
	}

	kb := tgui.NewInline()
	for _, req := range reqs {
		id := strconv.FormatInt(req.UserID, 10)
		kb.Row(
			tgui.Btn("✅ "+req.UserName, "access_request_accept_"+id),
			tgui.Btn("❌ "+req.UserName, "access_request_reject_"+id),
		)
	}
	kb.Row(tgui.Btn("⬅️ Back", "back_to_main"))

	body := tgui.B("Access requests")
	if len(reqs) == 0 {
		body = tgui.Lines(body, tgui.Esc("No pending requests."))
	}
	return r.render(ctx, chatID, messageID, body, kb)
}

func (r *Router) showGrantedAccessMenu(ctx context.Context, chatID int64, messageID int) error {
	users, err := r.governor.Users(ctx)
	if err != nil {
		return err
	}

	kb := tgui.NewInline()
	for _, u := range users {
		id := strconv.FormatInt(u.UserID, 10)
		if u.Status == storage.UserActive {
			kb.Row(tgui.Btn("🟢 "+u.UserName+" (block)", "grant_access_blocked_"+id))
		} else {
			kb.Row(tgui.Btn("🔴 "+u.UserName+" (activate)", "grant_access_active_"+id))
		}
	}
	kb.Row(tgui.Btn("⬅️ Back", "back_to_main"))

	body := tgui.B("Granted access")
	if len(users) == 0 {
		body = tgui.Lines(body, tgui.Esc("No users yet."))
	}
	return r.render(ctx, chatID, messageID, body, kb)
}

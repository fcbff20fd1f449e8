package transport

import "context"

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdateMembership UpdateKind = "membership"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	Membership *MembershipChange
}

// MediaKind classifies the media payload of a message, if any.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	Media        MediaKind
	// MediaFileID is the transport file handle for photo/video payloads.
	MediaFileID string
	Forwarded   bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	MessageID    int
	Data         string
}

// Sentinel identity recorded when a membership notification carries no
// originating user (bot-only change events). The audit trail never
// stores missing identity fields.
const (
	UnknownUserID   int64 = -1
	UnknownUserName       = "not defined"
)

// MembershipChange describes a change of the bot's own role in a chat.
// ByUserID/ByUserName are pre-substituted with the sentinel identity
// when the notification has no acting user.
type MembershipChange struct {
	ChatID     int64
	Title      string
	Kind       string // channel | group | supergroup | private | unknown
	NewRole    string
	OldRole    string
	ByUserID   int64
	ByUserName string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// AlbumItem is one media element of an album send.
type AlbumItem struct {
	Media   MediaKind
	FileID  string
	Caption string // only the first non-empty caption survives into the album
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// SendAlbum sends the items as one media group and returns the ids of
	// the transport messages it produced (one per item).
	SendAlbum(ctx context.Context, to ChatTarget, items []AlbumItem) ([]int, error)
	// SendCopy re-sends msg into the target chat, keeping its own
	// caption/entities, and returns the new transport message id.
	SendCopy(ctx context.Context, to ChatTarget, msg *Message) (int, error)
}

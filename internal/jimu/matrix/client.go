// Package matrix connects Jimu to its admin rooms: it receives operator
// messages for the command router and posts replies and audit notices.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	syncBackoffMin = 2 * time.Second
	syncBackoffMax = 5 * time.Minute
)

// Config holds Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AdminRooms are the only rooms whose messages reach the handler.
	AdminRooms []string
	// DB persists the sync position. Nil keeps it in memory.
	DB *sql.DB
}

// MessageHandler receives text messages from admin rooms.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps a mautrix client.
type Client struct {
	client  *mautrix.Client
	cfg     Config
	admin   map[string]bool
	handler MessageHandler
	stop    chan struct{}
}

// New creates a client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	mc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	if cfg.DB != nil {
		mc.Store = NewSyncStore(cfg.DB)
	} else {
		slog.Warn("matrix: no database for sync state, history will replay on restart")
	}

	admin := make(map[string]bool, len(cfg.AdminRooms))
	for _, r := range cfg.AdminRooms {
		admin[r] = true
	}
	return &Client{client: mc, cfg: cfg, admin: admin, stop: make(chan struct{})}, nil
}

// Start joins the admin rooms and syncs in the background until Stop.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected Matrix syncer %T", c.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.onMessage)

	for _, room := range c.cfg.AdminRooms {
		if err := c.join(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("failed to join admin room %s: %w", room, err)
		}
	}

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	backoff := syncBackoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if err == nil {
			return
		}
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		slog.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, syncBackoffMax)
	}
}

// Stop ends the sync loop.
func (c *Client) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.client.StopSync()
}

// SendText posts a plain message.
func (c *Client) SendText(roomID, message string) error {
	return c.send(roomID, &event.MessageEventContent{MsgType: event.MsgText, Body: message})
}

// SendNotice posts a notice. Audit messages use notices so other bots
// ignore them.
func (c *Client) SendNotice(roomID, message string) error {
	return c.send(roomID, &event.MessageEventContent{MsgType: event.MsgNotice, Body: message})
}

// SendMarkdown posts message with an HTML rendering for clients that
// support it.
func (c *Client) SendMarkdown(roomID, message string) error {
	return c.send(roomID, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          message,
		Format:        event.FormatHTML,
		FormattedBody: RenderHTML(message),
	})
}

// Reply answers the message eventID in roomID.
func (c *Client) Reply(roomID, eventID, message string) error {
	return c.send(roomID, &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      message,
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)}},
	})
}

func (c *Client) send(roomID string, content *event.MessageEventContent) error {
	if _, err := c.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send %s: %w", content.MsgType, err)
	}
	return nil
}

// IsAdminRoom reports whether roomID accepts commands.
func (c *Client) IsAdminRoom(roomID string) bool {
	return c.admin[roomID]
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string {
	return c.cfg.UserID
}

func (c *Client) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) || !c.IsAdminRoom(evt.RoomID.String()) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	if c.handler != nil {
		c.handler(ctx, evt)
	}
}

func (c *Client) join(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if errors.Is(err, mautrix.MForbidden) {
		slog.Warn("matrix: join refused, assuming already a member", "room", roomID)
		return nil
	}
	return err
}

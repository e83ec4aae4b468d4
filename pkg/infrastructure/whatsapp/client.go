// Package whatsapp implements channel.Transport on top of whatsmeow.
//
// Device credentials live in a SQLite store so a linked session survives
// restarts. whatsmeow events are translated into channel events and fanned
// out to the handlers registered with OnEvent.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// Raw states reported by State besides channel.StateConnected.
const (
	StateUnpaired     = "UNPAIRED"
	StateOpening      = "OPENING"
	StateDisconnected = "DISCONNECTED"
	StateTimeout      = "TIMEOUT"
)

// Config configures the transport.
type Config struct {
	// StorePath is the SQLite file holding device credentials.
	StorePath string
	// PrintQR renders pairing codes on stdout.
	PrintQR bool
	// PairingRetryDelay is the base pause between pairing rounds. It doubles
	// after each round that fails to open, up to maxPairingDelay.
	PairingRetryDelay time.Duration
}

const (
	defaultPairingRetryDelay = 2 * time.Second
	maxPairingDelay          = 30 * time.Second
)

// Client is the whatsmeow-backed transport.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	qrCancel  context.CancelFunc
	pairing   bool
	handlers  []channel.EventHandler
}

// New creates a transport. Nothing is opened until Connect.
func New(cfg Config) *Client {
	if cfg.PairingRetryDelay <= 0 {
		cfg.PairingRetryDelay = defaultPairingRetryDelay
	}
	return &Client{
		cfg: cfg,
		log: logger.Component("whatsapp"),
	}
}

// OnEvent registers a handler for transport events.
func (c *Client) OnEvent(handler channel.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect opens the credential store and the websocket. An unpaired device
// starts emitting pairing codes.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	if dir := filepath.Dir(c.cfg.StorePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	dsn := "file:" + c.cfg.StorePath + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Zerolog(c.log.With().Str("module", "store").Logger()))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("load device: %w", err)
	}

	client := c.newClient(device)
	c.client = client
	c.container = container

	if client.Store.ID == nil {
		logger.InfoC("whatsapp", "No linked device found, starting pairing")
		c.startPairingLocked()
		return nil
	}

	if err := client.Connect(); err != nil {
		c.client = nil
		c.container = nil
		_ = container.Close()
		return fmt.Errorf("connect: %w", err)
	}

	logger.InfoC("whatsapp", "Transport connecting")
	return nil
}

func (c *Client) newClient(device *store.Device) *whatsmeow.Client {
	client := whatsmeow.NewClient(device, waLog.Zerolog(c.log.With().Str("module", "client").Logger()))
	client.EnableAutoReconnect = true
	client.AddEventHandler(c.handleEvent)
	return client
}

// Disconnect closes the websocket and the credential store.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	if c.client == nil {
		return nil
	}
	c.client.Disconnect()
	c.client = nil

	var err error
	if c.container != nil {
		err = c.container.Close()
		c.container = nil
	}
	logger.InfoC("whatsapp", "Transport disconnected")
	return err
}

// State reports the raw connectivity state.
func (c *Client) State(ctx context.Context) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}
	switch {
	case client.Store.ID == nil:
		return StateUnpaired, nil
	case client.IsLoggedIn():
		return channel.StateConnected, nil
	case client.IsConnected():
		return StateOpening, nil
	default:
		return StateDisconnected, nil
	}
}

// SendText sends a plain conversation message. No link preview is attached
// and no read receipt is sent.
func (c *Client) SendText(ctx context.Context, chatID, body string, opts channel.SendOptions) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}
	jid, err := toJID(chatID)
	if err != nil {
		return "", err
	}
	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SendMedia uploads media and sends it. Images go out inline unless
// opts.AsDocument is set; everything else is sent as a document.
func (c *Client) SendMedia(ctx context.Context, chatID string, media channel.Media, opts channel.SendOptions) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}
	jid, err := toJID(chatID)
	if err != nil {
		return "", err
	}

	asImage := !opts.AsDocument && strings.HasPrefix(media.MimeType, "image/")
	mediaType := whatsmeow.MediaDocument
	if asImage {
		mediaType = whatsmeow.MediaImage
	}

	up, err := client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	msg := &waE2E.Message{}
	if asImage {
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(opts.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	} else {
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(opts.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ContactName returns the best known display name for chatID, or "" when
// the contact is unknown.
func (c *Client) ContactName(ctx context.Context, chatID string) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}
	jid, err := toJID(chatID)
	if err != nil {
		return "", err
	}
	info, err := client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", err
	}
	if !info.Found {
		return "", nil
	}
	for _, name := range []string{info.PushName, info.FullName, info.BusinessName} {
		if name != "" {
			return name, nil
		}
	}
	return "", nil
}

func (c *Client) current() (*whatsmeow.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, channel.ErrTransportNotStarted
	}
	return c.client, nil
}

func (c *Client) emit(evt channel.Event) {
	c.mu.RLock()
	handlers := make([]channel.EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// handleEvent runs on whatsmeow's dispatch goroutine.
func (c *Client) handleEvent(raw interface{}) {
	evt, ok := translate(raw)
	if !ok {
		return
	}
	if evt.Message != nil {
		c.resolveSender(evt.Message)
	}
	c.emit(evt)

	if _, loggedOut := raw.(*events.LoggedOut); loggedOut {
		go c.relink()
	}
}

// resolveSender rewrites a hidden-user (LID) sender to its phone-number chat
// id when the store knows the mapping, so replies and contact lookups work.
func (c *Client) resolveSender(msg *channel.InboundMessage) {
	if !strings.HasSuffix(msg.From, "@"+types.HiddenUserServer) {
		return
	}
	client, err := c.current()
	if err != nil {
		return
	}
	lid, err := types.ParseJID(msg.From)
	if err != nil {
		return
	}
	pn, err := client.Store.LIDs.GetPNForLID(context.Background(), lid)
	if err != nil || pn.IsEmpty() {
		logger.DebugCF("whatsapp", "No phone number known for LID sender", map[string]interface{}{
			"from": msg.From,
		})
		return
	}
	msg.From = toChatID(pn)
}

// relink replaces a logged-out device with a fresh one and pairs again.
// whatsmeow wipes the old device from the store on logout.
func (c *Client) relink() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || c.container == nil {
		return
	}
	c.client.Disconnect()
	c.client = c.newClient(c.container.NewDevice())
	logger.InfoC("whatsapp", "Device logged out, starting a new pairing")
	c.startPairingLocked()
}

// pairingOpener starts one pairing round and returns its code stream.
type pairingOpener func(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)

// startPairingLocked launches the pairing loop unless one is running.
// Callers hold c.mu.
func (c *Client) startPairingLocked() {
	if c.pairing {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pairing = true
	c.qrCancel = cancel

	go func() {
		defer cancel()
		c.runPairing(ctx, c.openPairing)

		c.mu.Lock()
		c.pairing = false
		c.mu.Unlock()
	}()
}

// openPairing registers a QR channel on the current client and connects it.
func (c *Client) openPairing(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	if client.IsConnected() {
		client.Disconnect()
	}
	items, err := client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("open pairing channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return items, nil
}

// runPairing keeps issuing fresh pairing codes until the device is linked,
// pairing fails for good or ctx is cancelled. whatsmeow closes its code
// channel after roughly three minutes or on any socket drop; each of those
// starts a new round.
func (c *Client) runPairing(ctx context.Context, open pairingOpener) {
	failures := 0
	for ctx.Err() == nil {
		roundCtx, cancel := context.WithCancel(ctx)
		items, err := open(roundCtx)
		retry := true
		if err != nil {
			failures++
			logger.WarnCF("whatsapp", "Pairing round failed to start", map[string]interface{}{
				"error":   err.Error(),
				"attempt": failures,
			})
		} else {
			failures = 0
			retry = c.watchPairing(roundCtx, items)
		}
		cancel()

		if !retry {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pairingDelay(failures)):
		}
	}
}

func (c *Client) pairingDelay(failures int) time.Duration {
	delay := c.cfg.PairingRetryDelay
	for i := 0; i < failures && delay < maxPairingDelay; i++ {
		delay *= 2
	}
	if delay > maxPairingDelay {
		delay = maxPairingDelay
	}
	return delay
}

// watchPairing forwards one round of pairing codes and reports whether a new
// round should follow.
func (c *Client) watchPairing(ctx context.Context, items <-chan whatsmeow.QRChannelItem) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case item, ok := <-items:
			if !ok {
				return ctx.Err() == nil
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				if c.cfg.PrintQR {
					qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
				}
				c.emit(channel.Event{Kind: channel.EventPairingCode, Code: item.Code})
			case whatsmeow.QRChannelSuccess.Event:
				logger.InfoC("whatsapp", "Pairing code scanned")
				return false
			case whatsmeow.QRChannelTimeout.Event:
				logger.InfoC("whatsapp", "Pairing codes expired, requesting new ones")
				return true
			case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				c.emit(channel.Event{Kind: channel.EventAuthFailure, Reason: item.Event})
			case whatsmeow.QRChannelEventError:
				reason := "pairing failed"
				if item.Error != nil {
					reason = item.Error.Error()
				}
				c.emit(channel.Event{Kind: channel.EventAuthFailure, Reason: reason})
				return true
			default:
				c.emit(channel.Event{Kind: channel.EventAuthFailure, Reason: item.Event})
				return false
			}
		}
	}
}

// translate maps a whatsmeow event onto a channel event.
func translate(raw interface{}) (channel.Event, bool) {
	switch v := raw.(type) {
	case *events.PairSuccess:
		return channel.Event{Kind: channel.EventAuthenticated}, true
	case *events.Connected:
		return channel.Event{Kind: channel.EventReady}, true
	case *events.Disconnected:
		return channel.Event{Kind: channel.EventStateChanged, State: StateDisconnected}, true
	case *events.KeepAliveTimeout:
		return channel.Event{Kind: channel.EventStateChanged, State: StateTimeout}, true
	case *events.KeepAliveRestored:
		return channel.Event{Kind: channel.EventStateChanged, State: channel.StateConnected}, true
	case *events.LoggedOut:
		return channel.Event{Kind: channel.EventDisconnected, Reason: v.Reason.String()}, true
	case *events.StreamReplaced:
		return channel.Event{Kind: channel.EventDisconnected, Reason: "CONFLICT"}, true
	case *events.ConnectFailure:
		reason := v.Reason.String()
		if v.Message != "" {
			reason += ": " + v.Message
		}
		return channel.Event{Kind: channel.EventAuthFailure, Reason: reason}, true
	case *events.ClientOutdated:
		return channel.Event{Kind: channel.EventAuthFailure, Reason: "client outdated"}, true
	case *events.TemporaryBan:
		return channel.Event{Kind: channel.EventAuthFailure, Reason: v.String()}, true
	case *events.Message:
		if v.Info.IsFromMe {
			return channel.Event{}, false
		}
		return channel.Event{Kind: channel.EventMessage, Message: inbound(v)}, true
	default:
		return channel.Event{}, false
	}
}

func inbound(v *events.Message) *channel.InboundMessage {
	from := v.Info.Chat
	if from.Server == types.HiddenUserServer && v.Info.SenderAlt.Server == types.DefaultUserServer {
		from = v.Info.SenderAlt
	}
	return &channel.InboundMessage{
		ID:        v.Info.ID,
		From:      toChatID(from),
		Body:      extractText(v.Message),
		PushName:  v.Info.PushName,
		Timestamp: v.Info.Timestamp.Unix(),
		Type:      messageType(v.Message),
		IsGroup:   v.Info.IsGroup,
	}
}

var _ channel.Transport = (*Client)(nil)

package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
	"minimal-sessions/common"
)

const requestTimeout = 10 * time.Second

// Console is a terminal UI that negotiates a session with one peer and shows
// its state as events arrive.
type Console struct {
	Gui    *gocui.Gui
	api    *SessionClient
	signer *Signer
	logger *logrus.Logger

	mu        sync.Mutex
	peerID    string
	handshake *Handshake
	session   *common.SessionView
	lines     []string

	events *websocket.Conn
	wg     sync.WaitGroup
}

func NewConsole(api *SessionClient, signer *Signer, logger *logrus.Logger) *Console {
	return &Console{api: api, signer: signer, logger: logger}
}

// InitGui initializes the gocui screen
func (c *Console) InitGui() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("failed to initialize gocui: %w", err)
	}
	c.Gui = g
	g.SetManagerFunc(c.layout)
	return nil
}

// PromptPeerID asks for the peer and then negotiates with it.
func (c *Console) PromptPeerID() error {
	return c.Gui.SetKeybinding("prompt", gocui.KeyEnter, gocui.ModNone, func(g *gocui.Gui, v *gocui.View) error {
		peerID := strings.TrimSpace(v.Buffer())
		if peerID == "" {
			return nil
		}
		c.SetPeer(peerID)

		g.DeleteView("prompt")
		g.SetManagerFunc(c.layout)

		if err := g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, c.commandHandler); err != nil {
			return err
		}
		if err := c.Connect(context.Background()); err != nil {
			c.logLine("error: %v", err)
		}
		return nil
	})
}

// SetPeer selects the peer and forgets any previous session.
func (c *Console) SetPeer(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerID = peerID
	c.handshake = nil
	c.session = nil
}

// Connect negotiates the session and subscribes to events.
func (c *Console) Connect(ctx context.Context) error {
	if _, err := c.Negotiate(ctx); err != nil {
		return err
	}
	conn, err := c.api.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	c.events = conn

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.listenForEvents()
	}()
	return nil
}

// Negotiate runs get-or-create with the current handshake, generating one
// first if needed.
func (c *Console) Negotiate(ctx context.Context) (*common.SessionView, error) {
	c.mu.Lock()
	peerID := c.peerID
	hs := c.handshake
	c.mu.Unlock()

	if hs == nil {
		var err error
		if hs, err = c.signer.NewHandshake(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	view, err := c.api.GetOrCreate(ctx, peerID, hs)
	if err != nil {
		return nil, fmt.Errorf("failed to negotiate session with %s: %w", peerID, err)
	}

	c.mu.Lock()
	c.handshake = hs
	c.session = view
	c.mu.Unlock()
	c.logLine("session %s (new=%t)", view.SessionID, view.IsNew)
	return view, nil
}

// Rotate replaces the current session with a fresh ephemeral key.
func (c *Console) Rotate(ctx context.Context) (*common.SessionView, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, errors.New("no session to rotate")
	}

	hs, err := c.signer.NewHandshake()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	view, err := c.api.Rotate(ctx, current.SessionID, hs)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	c.mu.Lock()
	c.handshake = hs
	c.session = view
	c.mu.Unlock()
	c.logLine("rotated %s -> %s", current.SessionID, view.SessionID)
	return view, nil
}

// Execute runs one console command.
func (c *Console) Execute(ctx context.Context, cmd string) error {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "":
		return nil
	case "sync", "refresh":
		_, err := c.Negotiate(ctx)
		return err
	case "rotate":
		_, err := c.Rotate(ctx)
		return err
	case "new":
		c.mu.Lock()
		c.handshake = nil
		c.mu.Unlock()
		_, err := c.Negotiate(ctx)
		return err
	case "help":
		c.logLine("commands: sync, rotate, new, help")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// Session returns the last view the server returned.
func (c *Console) Session() *common.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// listenForEvents re-syncs whenever the peer changes its side of the pairing.
func (c *Console) listenForEvents() {
	for {
		var ev common.SessionEvent
		if err := c.events.ReadJSON(&ev); err != nil {
			c.logger.Errorf("Error reading event: %v", err)
			return
		}
		c.logLine("event %s from %s (%s)", ev.Type, ev.OwnerID, ev.SessionID)

		c.mu.Lock()
		fromPeer := ev.OwnerID == c.peerID
		c.mu.Unlock()
		if fromPeer && ev.Type != common.EventReused {
			if _, err := c.Negotiate(context.Background()); err != nil {
				c.logLine("error: %v", err)
			}
		}
	}
}

func (c *Console) commandHandler(g *gocui.Gui, v *gocui.View) error {
	cmd := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	if err := c.Execute(context.Background(), cmd); err != nil {
		c.logLine("error: %v", err)
	}
	return nil
}

func (c *Console) logLine(format string, args ...any) {
	c.mu.Lock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
	c.mu.Unlock()

	if c.Gui != nil {
		c.Gui.Update(c.updateViews)
	}
}

// Lines returns the console log.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// describe renders a session view for the status pane.
func describe(view *common.SessionView) []string {
	if view == nil {
		return []string{"no session"}
	}
	peerKey := view.PeerEphemeralKey
	if peerKey == "" {
		peerKey = "(waiting for peer)"
	}
	return []string{
		"session:     " + view.SessionID,
		"peer:        " + view.PeerID,
		"fingerprint: " + view.PeerFingerprint,
		"my key:      " + view.OwnEphemeralKey,
		"peer key:    " + peerKey,
		"expires:     " + view.ExpiresAt.Local().Format(time.RFC1123),
	}
}

func (c *Console) updateViews(g *gocui.Gui) error {
	c.mu.Lock()
	lines := append([]string(nil), c.lines...)
	status := describe(c.session)
	c.mu.Unlock()

	if v, err := g.View("session"); err == nil {
		v.Clear()
		for _, l := range status {
			fmt.Fprintln(v, l)
		}
	}
	if v, err := g.View("log"); err == nil {
		v.Clear()
		for _, l := range lines {
			fmt.Fprintln(v, l)
		}
	}
	return nil
}

// Layout function for the UI
func (c *Console) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()

	if peerID == "" {
		if v, err := g.SetView("prompt", maxX/4, maxY/4, 3*maxX/4, maxY/2); err != nil {
			if !errors.Is(err, gocui.ErrUnknownView) {
				return err
			}
			v.Title = "Enter peer ID"
			v.Editable = true
			v.Wrap = true
			g.SetCurrentView("prompt")
		}
		return g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, c.quit)
	}

	if v, err := g.SetView("session", 0, 0, maxX-1, 7); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Session with " + peerID
		v.Wrap = true
	}

	if v, err := g.SetView("log", 0, 8, maxX-1, maxY-5); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Events"
		v.Autoscroll = true
		v.Wrap = true
	}

	if v, err := g.SetView("input", 0, maxY-4, maxX-1, maxY-2); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Command (sync, rotate, new, help)"
		v.Editable = true
		v.Wrap = true
		g.SetCurrentView("input")
	}

	c.updateViews(g)
	return g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, c.quit)
}

// quit handles quitting the application
func (c *Console) quit(_ *gocui.Gui, _ *gocui.View) error {
	c.logger.Info("Shutting down gracefully...")
	if c.events != nil {
		c.events.Close()
	}
	c.wg.Wait()
	return gocui.ErrQuit
}

// Close releases the event stream when the console ran without a GUI.
func (c *Console) Close() {
	if c.events != nil {
		c.events.Close()
	}
	c.wg.Wait()
}

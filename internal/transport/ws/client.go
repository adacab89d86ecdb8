package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signlink.ai/internal/protocol"
)

// JoinError is the server's NOTICE when it refuses a HELLO.
type JoinError struct {
	Code string
	Text string
}

func (e *JoinError) Error() string { return fmt.Sprintf("join refused: %s: %s", e.Code, e.Text) }

// SignView is what a client currently sees on one sign.
type SignView struct {
	Pos   [3]int
	Front [4]string
	Back  [4]string
}

// Event is one server message after the handshake.
type Event struct {
	Type   string
	Pos    [3]int
	Side   string
	Lines  [4]string
	Notice protocol.NoticeMsg
}

// Client is a viewer session. Reads run on their own goroutine; Events is
// closed when the connection ends.
type Client struct {
	Welcome protocol.WelcomeMsg

	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	wmu sync.Mutex

	mu    sync.Mutex
	signs map[[3]int]*SignView
	err   error
}

func Dial(ctx context.Context, url, name string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ViewerName: name}
	if err := writeJSON(conn, hello); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeNotice:
		var n protocol.NoticeMsg
		_ = json.Unmarshal(msg, &n)
		conn.Close()
		return nil, &JoinError{Code: n.Code, Text: n.Text}
	default:
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %s", base.Type)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, outQueue),
		done:   make(chan struct{}),
		signs:  map[[3]int]*SignView{},
	}
	if err := json.Unmarshal(msg, &c.Welcome); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the read loop ends. Err reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Signs returns the visible signs ordered by position.
func (c *Client) Signs() []SignView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SignView, 0, len(c.signs))
	for _, s := range c.signs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		for k := 0; k < 3; k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

func (c *Client) Move(pos [3]int) error {
	return c.send(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: pos})
}

func (c *Client) Edit(pos [3]int, side string, lines [4]string) error {
	return c.send(protocol.EditSignMsg{Type: protocol.TypeEditSign, ProtocolVersion: protocol.Version, Pos: pos, Side: side, Lines: lines})
}

func (c *Client) Place(pos [3]int) error {
	return c.send(protocol.PlaceSignMsg{Type: protocol.TypePlaceSign, ProtocolVersion: protocol.Version, Pos: pos})
}

func (c *Client) Break(pos [3]int) error {
	return c.send(protocol.BreakSignMsg{Type: protocol.TypeBreakSign, ProtocolVersion: protocol.Version, Pos: pos})
}

func (c *Client) Interact(pos [3]int, side string) error {
	return c.send(protocol.InteractMsg{Type: protocol.TypeInteract, ProtocolVersion: protocol.Version, Pos: pos, Side: side})
}

func (c *Client) send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return writeJSON(c.conn, v)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		ev := Event{Type: base.Type}
		switch base.Type {
		case protocol.TypeSignLines:
			var m protocol.SignLinesMsg
			if json.Unmarshal(msg, &m) != nil {
				continue
			}
			ev.Pos, ev.Side, ev.Lines = m.Pos, m.Side, m.Lines
			c.mu.Lock()
			s := c.signs[m.Pos]
			if s == nil {
				s = &SignView{Pos: m.Pos}
				c.signs[m.Pos] = s
			}
			if m.Side == "back" {
				s.Back = m.Lines
			} else {
				s.Front = m.Lines
			}
			c.mu.Unlock()
		case protocol.TypeSignRemoved:
			var m protocol.SignRemovedMsg
			if json.Unmarshal(msg, &m) != nil {
				continue
			}
			ev.Pos = m.Pos
			c.mu.Lock()
			delete(c.signs, m.Pos)
			c.mu.Unlock()
		case protocol.TypeNotice:
			if json.Unmarshal(msg, &ev.Notice) != nil {
				continue
			}
		default:
			continue
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}

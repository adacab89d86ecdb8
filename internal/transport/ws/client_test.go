package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signlink.ai/internal/protocol"
)

func waitFor(t *testing.T, c *Client, what string, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "connection closed waiting for %s", what)
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestClient_PlaceEditBreak(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "alice")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "alice", c.Welcome.ViewerName)
	assert.Equal(t, 1, c.Welcome.ViewRadius)

	motd := [3]int{2, 64, 2}
	waitFor(t, c, "seeded sign", func(ev Event) bool { return ev.Pos == motd && ev.Side == "back" })
	require.Len(t, c.Signs(), 1)
	assert.Equal(t, "hi", c.Signs()[0].Front[0])

	pos := [3]int{3, 64, 3}
	require.NoError(t, c.Place(pos))
	waitFor(t, c, "placed sign", func(ev Event) bool { return ev.Type == protocol.TypeSignLines && ev.Pos == pos })

	require.NoError(t, c.Edit(pos, "front", [4]string{"%motd%", "", "", ""}))
	waitFor(t, c, "rendered edit", func(ev Event) bool { return ev.Pos == pos && ev.Lines[0] == "hi" })
	require.Len(t, c.Signs(), 2)

	require.NoError(t, c.Break(pos))
	waitFor(t, c, "removal", func(ev Event) bool { return ev.Type == protocol.TypeSignRemoved && ev.Pos == pos })
	assert.Len(t, c.Signs(), 1)

	require.NoError(t, c.Edit(pos, "front", [4]string{"x", "", "", ""}))
	ev := waitFor(t, c, "notice", func(ev Event) bool { return ev.Type == protocol.TypeNotice })
	assert.Equal(t, protocol.ErrInvalidTarget, ev.Notice.Code)
}

func TestClient_JoinRefused(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := Dial(ctx, url, "alice")
	require.NoError(t, err)
	defer first.Close()

	_, err = Dial(ctx, url, "ALICE")
	var je *JoinError
	require.True(t, errors.As(err, &je), "got %v", err)
	assert.Equal(t, protocol.ErrConflict, je.Code)
}

func TestClient_CloseEndsEvents(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "bob")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("read loop still running after Close")
	}
}

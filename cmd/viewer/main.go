package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/tcell/v2"

	"signlink.ai/internal/transport/ws"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "", "viewer name (required)")
	)
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := ws.Dial(ctx, *url, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer c.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintln(os.Stderr, "screen:", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "screen:", err)
		os.Exit(1)
	}
	defer screen.Fini()

	if err := run(ctx, c, screen); err != nil {
		screen.Fini()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *ws.Client, screen tcell.Screen) error {
	header := fmt.Sprintf("%s @ %s", c.Welcome.ViewerName, c.Welcome.WorldID)
	u := newUI([3]int{0, 64, 0})

	keys := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				close(keys)
				return
			}
			keys <- ev
		}
	}()

	u.setSigns(c.Signs())
	u.draw(screen, header)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return fmt.Errorf("disconnected: %v", c.Err())
		case ev, ok := <-c.Events():
			if !ok {
				continue
			}
			u.onEvent(ev)
			u.setSigns(c.Signs())
		case ev, ok := <-keys:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventKey:
				if a := u.handleKey(ev.Key(), ev.Rune()); a != nil {
					if err := send(c, a); err != nil {
						return err
					}
				}
				if u.quit {
					return nil
				}
			}
		}
		u.draw(screen, header)
	}
}

func send(c *ws.Client, a *action) error {
	switch a.kind {
	case actMove:
		return c.Move(a.pos)
	case actPlace:
		return c.Place(a.pos)
	case actBreak:
		return c.Break(a.pos)
	case actEdit:
		return c.Edit(a.pos, a.side, a.lines)
	case actInteract:
		return c.Interact(a.pos, a.side)
	}
	return nil
}

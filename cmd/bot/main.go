package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"signlink.ai/internal/logging"
	"signlink.ai/internal/protocol"
	"signlink.ai/internal/transport/ws"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "viewer name")
		every    = flag.Duration("every", 2*time.Second, "time between actions")
		wander   = flag.Int("wander", 24, "max distance from spawn on each axis")
		logLevel = flag.String("log_level", "info", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	logger = logger.Named("bot").With(zap.String("viewer", *name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := ws.Dial(ctx, *url, *name)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer c.Close()
	logger.Info("WELCOME",
		zap.String("session", c.Welcome.SessionID),
		zap.String("world", c.Welcome.WorldID),
		zap.Int("tick_rate", c.Welcome.TickRateHz),
		zap.Int("view_radius", c.Welcome.ViewRadius))

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	pos := [3]int{0, 64, 0}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			logger.Info("disconnected", zap.Error(c.Err()))
			return
		case ev, ok := <-c.Events():
			if !ok {
				continue
			}
			logEvent(logger, ev)
		case <-ticker.C:
			if err := act(c, r, &pos, *wander, step); err != nil {
				logger.Warn("send", zap.Error(err))
			}
		}
	}
}

// act alternates between moving somewhere nearby and using a visible sign.
func act(c *ws.Client, r *rand.Rand, pos *[3]int, wander, step int) error {
	if step%3 == 0 {
		pos[0] = clamp(pos[0]+r.Intn(17)-8, wander)
		pos[2] = clamp(pos[2]+r.Intn(17)-8, wander)
		return c.Move(*pos)
	}
	signs := c.Signs()
	if len(signs) == 0 {
		return nil
	}
	s := signs[r.Intn(len(signs))]
	side := "front"
	if r.Intn(2) == 1 {
		side = "back"
	}
	return c.Interact(s.Pos, side)
}

func logEvent(logger *zap.Logger, ev ws.Event) {
	switch ev.Type {
	case protocol.TypeSignLines:
		logger.Debug("sign", zap.Ints("pos", ev.Pos[:]), zap.String("side", ev.Side), zap.Strings("lines", ev.Lines[:]))
	case protocol.TypeSignRemoved:
		logger.Debug("sign removed", zap.Ints("pos", ev.Pos[:]))
	case protocol.TypeNotice:
		logger.Info("notice", zap.String("level", ev.Notice.Level), zap.String("code", ev.Notice.Code), zap.String("text", ev.Notice.Text))
	}
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

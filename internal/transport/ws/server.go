package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signlink.ai/internal/protocol"
	"signlink.ai/internal/sim/world"
)

const outQueue = 256

type Server struct {
	world     *world.World
	log       *zap.Logger
	validator *protocol.Validator

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, v *protocol.Validator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		world:     w,
		log:       logger,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sessionID, out := s.handshake(ctx, conn)
		if sessionID == "" {
			return
		}
		log := s.log.With(zap.String("session", sessionID))

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := s.validator.Validate(msg)
			if err != nil {
				log.Debug("rejected message", zap.String("type", base.Type), zap.Error(err))
				notify(out, protocol.NewNotice(protocol.NoticeError, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				notify(out, protocol.NewNotice(protocol.NoticeError, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			decoded, err := protocol.DecodeClient(base.Type, msg)
			if err != nil {
				notify(out, protocol.NewNotice(protocol.NoticeError, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			select {
			case s.world.Inbox() <- world.Envelope{SessionID: sessionID, Msg: decoded}:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		select {
		case s.world.Leave() <- sessionID:
		case <-time.After(5 * time.Second):
			log.Warn("leave not delivered")
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := s.validator.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}

	out = make(chan []byte, outQueue)
	respCh := make(chan world.JoinResponse, 1)
	req := world.JoinRequest{
		SessionID: uuid.NewString(),
		Name:      hello.ViewerName,
		Out:       out,
		Resp:      respCh,
	}
	select {
	case s.world.Join() <- req:
	case <-ctx.Done():
		return "", nil
	}

	var resp world.JoinResponse
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return "", nil
	}
	if resp.Code != "" {
		_ = writeJSON(conn, protocol.NewNotice(protocol.NoticeError, resp.Code, resp.Message))
		closeWith(conn, resp.Message)
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- req.SessionID
		return "", nil
	}
	s.log.Info("viewer connected", zap.String("viewer", resp.Welcome.ViewerName), zap.String("session", req.SessionID))
	return req.SessionID, out
}

func notify(out chan []byte, n protocol.NoticeMsg) {
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

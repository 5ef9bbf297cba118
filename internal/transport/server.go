package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/runnerr0/procedura/internal/protocol"
)

// Handler answers one request.
type Handler interface {
	Handle(ctx context.Context, sender protocol.Sender, req protocol.Request) protocol.Response
}

// Server answers requests on the request subject.
type Server struct {
	conn    *Conn
	handler Handler
	logger  *slog.Logger
	sub     *nats.Subscription
	connSub *nats.Subscription

	inflight sync.WaitGroup
}

func NewServer(conn *Conn, handler Handler) *Server {
	return &Server{conn: conn, handler: handler, logger: conn.logger}
}

// Start subscribes to the request subject in the background queue group.
// Each request is handled on its own goroutine, so a long sync never holds
// up status queries.
func (s *Server) Start(ctx context.Context) error {
	subj := s.conn.subjects.Request()
	sub, err := s.conn.nc.QueueSubscribe(subj, queueGroup, func(msg *nats.Msg) {
		var respond func([]byte) error
		if msg.Reply != "" {
			respond = msg.Respond
		}
		s.dispatch(ctx, msg.Data, respond)
	})
	if err != nil {
		return fmt.Errorf("failed to queue subscribe to subject %s with queue %s: %w", subj, queueGroup, err)
	}
	s.sub = sub
	s.logger.Info("serving requests", slog.String("subject", subj))
	return nil
}

// OnConnectivity subscribes fn to "online"/"offline" signals published
// on the connectivity subject.
func (s *Server) OnConnectivity(fn func(online bool)) error {
	subj := s.conn.subjects.Connectivity()
	sub, err := s.conn.nc.Subscribe(subj, func(msg *nats.Msg) {
		switch string(msg.Data) {
		case "online":
			fn(true)
		case "offline":
			fn(false)
		default:
			s.logger.Warn("unknown connectivity signal", slog.String("data", string(msg.Data)))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subj, err)
	}
	s.connSub = sub
	return nil
}

// dispatch serves data in the background and hands the reply to respond.
// A nil respond means the sender expects no reply.
func (s *Server) dispatch(ctx context.Context, data []byte, respond func([]byte) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		reply := serve(ctx, s.handler, data)
		if respond == nil {
			return
		}
		if err := respond(reply); err != nil {
			s.logger.Error("failed to respond", slog.String("error", err.Error()))
		}
	}()
}

// Stop unsubscribes and waits for requests already being handled.
func (s *Server) Stop() {
	for _, sub := range []*nats.Subscription{s.sub, s.connSub} {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}
	s.inflight.Wait()
}

// serve decodes one request, runs the handler and encodes the reply.
// Malformed requests get a failure response rather than silence.
func serve(ctx context.Context, h Handler, data []byte) []byte {
	var resp protocol.Response
	req, sender, err := decodeEnvelope(data)
	if err != nil {
		resp = protocol.Fail("%s", err.Error())
	} else {
		resp = h.Handle(ctx, sender, req)
	}
	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		out, _ = protocol.EncodeResponse(protocol.Fail("encode response: %s", err.Error()))
	}
	return out
}

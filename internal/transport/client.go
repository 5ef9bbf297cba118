package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/runnerr0/procedura/internal/protocol"
)

// Client sends requests to the background and watches its broadcasts.
type Client struct {
	conn    *Conn
	timeout time.Duration
}

func NewClient(conn *Conn) *Client {
	return &Client{conn: conn, timeout: conn.cfg.RequestTimeout()}
}

// Send issues req and waits for the reply.
func (c *Client) Send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	return c.SendFrom(ctx, protocol.Sender{}, req)
}

// SendFrom issues req on behalf of sender.
func (c *Client) SendFrom(ctx context.Context, sender protocol.Sender, req protocol.Request) (protocol.Response, error) {
	data, err := encodeEnvelope(req, sender)
	if err != nil {
		return protocol.Response{}, err
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.conn.nc.RequestWithContext(ctx, c.conn.subjects.Request(), data)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("request %s: %w", req.Type, err)
	}
	return protocol.DecodeResponse(msg.Data)
}

// Watch delivers every broadcast to fn until the returned function is
// called.
func (c *Client) Watch(fn func(protocol.Request)) (func(), error) {
	subj := c.conn.subjects.Event("")
	sub, err := c.conn.nc.Subscribe(subj, func(msg *nats.Msg) {
		var req protocol.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		fn(req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s: %w", subj, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SetConnectivity publishes an online/offline signal to the background.
func (c *Client) SetConnectivity(online bool) error {
	signal := "offline"
	if online {
		signal = "online"
	}
	if err := c.conn.nc.Publish(c.conn.subjects.Connectivity(), []byte(signal)); err != nil {
		return fmt.Errorf("failed to publish message to subject %s: %w", c.conn.subjects.Connectivity(), err)
	}
	return c.conn.nc.Flush()
}

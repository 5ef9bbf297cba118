package transport

import (
	"context"
	"fmt"

	"github.com/runnerr0/procedura/internal/protocol"
)

// Broadcaster publishes notifications to every watcher.
type Broadcaster struct {
	conn *Conn
}

func NewBroadcaster(conn *Conn) *Broadcaster {
	return &Broadcaster{conn: conn}
}

// Broadcast publishes req on its event subject. Delivery is fire and
// forget.
func (b *Broadcaster) Broadcast(_ context.Context, req protocol.Request) error {
	data, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	subj := b.conn.subjects.Event(string(req.Type))
	if err := b.conn.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("failed to publish message to subject %s: %w", subj, err)
	}
	return nil
}

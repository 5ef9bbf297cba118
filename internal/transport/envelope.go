package transport

import (
	"encoding/json"
	"fmt"

	"github.com/runnerr0/procedura/internal/protocol"
)

// envelope is a request on the wire together with the tab it came from.
type envelope struct {
	protocol.Request
	SenderTabID *int `json:"senderTabId,omitempty"`
}

func encodeEnvelope(req protocol.Request, sender protocol.Sender) ([]byte, error) {
	data, err := json.Marshal(envelope{Request: req, SenderTabID: sender.TabID})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (protocol.Request, protocol.Sender, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Request{}, protocol.Sender{}, fmt.Errorf("decode request: %w", err)
	}
	if env.Type == "" {
		return protocol.Request{}, protocol.Sender{}, fmt.Errorf("decode request: missing type")
	}
	return env.Request, protocol.Sender{TabID: env.SenderTabID}, nil
}

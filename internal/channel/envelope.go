package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	envelopeTypeAIResponse = "ai_response"
	envelopeTypeError      = "error"
)

// envelope is the inbound frame format, tagged by type.
type envelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// outbound is the frame written for every user message.
type outbound struct {
	Message string `json:"message"`
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return envelope{}, errors.New("envelope has no type")
	}
	return env, nil
}

func encodeOutbound(text string) ([]byte, error) {
	return json.Marshal(outbound{Message: text})
}

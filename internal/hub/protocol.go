package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The hub speaks JSON frames terminated by the ASCII record separator, with
// a one-shot protocol handshake after the websocket upgrade. Invocations
// and inbound events share one message shape distinguished by type.

const recordSeparator byte = 0x1e

const (
	messageInvocation = 1
	messagePing       = 6
	messageClose      = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode hub frame: %w", err)
	}
	return append(data, recordSeparator), nil
}

// splitFrames cuts a websocket payload into its JSON frames, dropping the
// trailing empty slice after the final separator.
func splitFrames(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	frames := parts[:0]
	for _, p := range parts {
		if len(p) > 0 {
			frames = append(frames, p)
		}
	}
	return frames
}

// encodeInvocation builds a fire-and-forget invocation frame, marshaling
// each argument in place.
func encodeInvocation(target string, args []any) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		raw = append(raw, data)
	}
	return encodeFrame(hubMessage{
		Type:      messageInvocation,
		Target:    target,
		Arguments: raw,
	})
}

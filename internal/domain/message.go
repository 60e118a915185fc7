package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageRequestDisplayName MessageType = "request_display_name"
	MessageSendDisplayName    MessageType = "send_display_name"
	MessageText               MessageType = "message"
)

// DataConnData is the only payload exchanged over peer data channels. The keys
// match what browser peers send, hence senderPeerId in camel case.
type DataConnData struct {
	Type         MessageType `json:"type"`
	SenderPeerID PeerID      `json:"senderPeerId"`
	Message      string      `json:"message"`
}

func (m MessageType) Valid() bool {
	switch m {
	case MessageRequestDisplayName, MessageSendDisplayName, MessageText:
		return true
	}
	return false
}

func EncodeDataConnData(d DataConnData) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDataConnData(b []byte) (DataConnData, error) {
	var d DataConnData
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("decode data message: %w", err)
	}
	if !d.Type.Valid() {
		return d, fmt.Errorf("decode data message: unknown type %q", d.Type)
	}
	return d, nil
}

package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kc1awv/lxst-phone/crypto"
)

// Type identifies a signaling message.
type Type string

// Accepted message types.
const (
	TypeInvite   Type = "CALL_INVITE"
	TypeRinging  Type = "CALL_RINGING"
	TypeAccept   Type = "CALL_ACCEPT"
	TypeReject   Type = "CALL_REJECT"
	TypeEnd      Type = "CALL_END"
	TypeAnnounce Type = "PRESENCE_ANNOUNCE"
)

const (
	// MaxEncryptedSize is the transport packet budget for a signaling
	// datagram on all interfaces.
	MaxEncryptedSize = 500

	// EncryptionBudget is the allowance for the transport's encryption
	// overhead on a single-destination packet.
	EncryptionBudget = 64

	// MaxMessageSize is the JSON payload cap that keeps the sealed packet
	// inside MaxEncryptedSize.
	MaxMessageSize = MaxEncryptedSize - EncryptionBudget

	// MaxDisplayName bounds the display name bytes a worst-case invite can
	// carry and still encode inside MaxMessageSize. Config ingestion trims
	// to it; the wire layer itself only enforces the total budget.
	MaxDisplayName = 48
)

// CallMessage is the tagged wire record for all call control traffic.
// Optional fields are omitted when unset; public keys are never carried.
type CallMessage struct {
	Type         Type   `json:"type"`
	CallID       string `json:"call_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	DisplayName  string `json:"display_name,omitempty"`
	CallDest     string `json:"call_dest,omitempty"`
	CodecType    string `json:"codec_type,omitempty"`
	CodecBitrate int    `json:"codec_bitrate,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// NewCallID allocates a fresh call identifier (UUID v4).
func NewCallID() string {
	return uuid.NewString()
}

// ValidCallID reports whether id parses as an RFC 4122 UUID. The wire layer
// only requires call_id to be non-empty; this is for frontends that accept
// call IDs from user input.
func ValidCallID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Encode serialises the message to its JSON wire form, enforcing the MTU
// budget. Callers must not transmit anything when an error is returned.
func (m *CallMessage) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	return data, nil
}

// ParseMessage decodes and validates a wire payload. Field order is free and
// unknown fields are ignored; a missing required field fails the parse and
// the caller drops the packet.
func ParseMessage(data []byte) (*CallMessage, error) {
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	var msg CallMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate enforces the per-type required fields.
func (m *CallMessage) Validate() error {
	switch m.Type {
	case TypeInvite, TypeRinging, TypeAccept, TypeReject, TypeEnd:
		if m.CallID == "" {
			return fmt.Errorf("%w: call_id", ErrMissingField)
		}
		if m.From == "" {
			return fmt.Errorf("%w: from", ErrMissingField)
		}
		if m.To == "" {
			return fmt.Errorf("%w: to", ErrMissingField)
		}
	case TypeAnnounce:
		// Presence announces are broadcast: call_id and to stay empty.
		if m.From == "" {
			return fmt.Errorf("%w: from", ErrMissingField)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	if m.Type == TypeInvite || m.Type == TypeAccept {
		if m.CallDest == "" {
			return fmt.Errorf("%w: call_dest", ErrMissingField)
		}
		if m.CodecType == "" {
			return fmt.Errorf("%w: codec_type", ErrMissingField)
		}
		if m.CodecBitrate <= 0 {
			return fmt.Errorf("%w: codec_bitrate", ErrMissingField)
		}
	}
	return nil
}

// AnnounceData is the app_data blob attached to transport announces.
// Recipients must verify App before trusting anything else in the announce.
type AnnounceData struct {
	App         string `json:"app"`
	DisplayName string `json:"display_name,omitempty"`
}

// EncodeAnnounceData serialises announce app_data.
func EncodeAnnounceData(displayName string) ([]byte, error) {
	data, err := json.Marshal(AnnounceData{App: crypto.AppName, DisplayName: displayName})
	if err != nil {
		return nil, fmt.Errorf("encode announce data: %w", err)
	}
	return data, nil
}

// ParseAnnounceData decodes announce app_data and checks that it belongs to
// this application. Announces for other apps fail with ErrBadAnnounce and
// are dropped without logging noise.
func ParseAnnounceData(data []byte) (*AnnounceData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty app_data", ErrBadAnnounce)
	}

	var ad AnnounceData
	if err := json.Unmarshal(data, &ad); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAnnounce, err)
	}
	if ad.App != crypto.AppName {
		return nil, fmt.Errorf("%w: app %q", ErrBadAnnounce, ad.App)
	}
	return &ad, nil
}

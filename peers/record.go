package peers

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kc1awv/lxst-phone/crypto"
)

// DefaultDisplayName is used for peers that announce without a name.
const DefaultDisplayName = "Unknown"

// Record is one directory entry. NodeID is the primary key; PublicKey and
// CallDest are taken from the peer's most recent valid announce.
type Record struct {
	NodeID        crypto.NodeID
	PublicKey     [32]byte
	DisplayName   string
	CallDest      crypto.DestinationHash
	FirstSeen     time.Time
	LastSeen      time.Time
	AnnounceCount uint64
	Verified      bool
	Blocked       bool
}

// storedRecord is the JSON form of a Record inside peers.json.
type storedRecord struct {
	NodeID        string    `json:"node_id"`
	PublicKey     string    `json:"public_key"`
	DisplayName   string    `json:"display_name"`
	CallDest      string    `json:"call_dest"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	AnnounceCount uint64    `json:"announce_count"`
	Verified      bool      `json:"verified"`
	Blocked       bool      `json:"blocked"`
}

func (r *Record) toStored() storedRecord {
	return storedRecord{
		NodeID:        r.NodeID.String(),
		PublicKey:     base64.StdEncoding.EncodeToString(r.PublicKey[:]),
		DisplayName:   r.DisplayName,
		CallDest:      r.CallDest.String(),
		FirstSeen:     r.FirstSeen,
		LastSeen:      r.LastSeen,
		AnnounceCount: r.AnnounceCount,
		Verified:      r.Verified,
		Blocked:       r.Blocked,
	}
}

func recordFromStored(s storedRecord) (*Record, error) {
	nodeID, err := crypto.ParseNodeID(s.NodeID)
	if err != nil {
		return nil, err
	}
	callDest, err := crypto.ParseDestinationHash(s.CallDest)
	if err != nil {
		return nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(s.PublicKey)
	if err != nil {
		return nil, err
	}
	if len(pub) != 32 {
		return nil, fmt.Errorf("public key: expected 32 bytes, got %d", len(pub))
	}

	rec := &Record{
		NodeID:        nodeID,
		DisplayName:   s.DisplayName,
		CallDest:      callDest,
		FirstSeen:     s.FirstSeen,
		LastSeen:      s.LastSeen,
		AnnounceCount: s.AnnounceCount,
		Verified:      s.Verified,
		Blocked:       s.Blocked,
	}
	copy(rec.PublicKey[:], pub)
	if rec.DisplayName == "" {
		rec.DisplayName = DefaultDisplayName
	}
	return rec, nil
}

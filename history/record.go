package history

import (
	"fmt"
	"time"

	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
)

// Call directions as recorded in the log.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Record is one finished call.
type Record struct {
	CallID      string
	RemoteID    crypto.NodeID
	DisplayName string
	Direction   string
	Outcome     callstate.Outcome
	StartedAt   time.Time
	Duration    time.Duration
}

// storedRecord is the JSON form of a Record inside history.json. Duration
// is stored in seconds to keep the file readable.
type storedRecord struct {
	CallID      string    `json:"call_id"`
	RemoteID    string    `json:"remote_id"`
	DisplayName string    `json:"display_name"`
	Direction   string    `json:"direction"`
	Outcome     string    `json:"outcome"`
	DurationS   float64   `json:"duration_s"`
	StartTS     time.Time `json:"start_ts"`
}

func (r Record) toStored() storedRecord {
	return storedRecord{
		CallID:      r.CallID,
		RemoteID:    r.RemoteID.String(),
		DisplayName: r.DisplayName,
		Direction:   r.Direction,
		Outcome:     string(r.Outcome),
		DurationS:   r.Duration.Seconds(),
		StartTS:     r.StartedAt,
	}
}

func recordFromStored(s storedRecord) (Record, error) {
	if s.CallID == "" {
		return Record{}, fmt.Errorf("missing call_id")
	}
	remoteID, err := crypto.ParseNodeID(s.RemoteID)
	if err != nil {
		return Record{}, err
	}

	return Record{
		CallID:      s.CallID,
		RemoteID:    remoteID,
		DisplayName: s.DisplayName,
		Direction:   s.Direction,
		Outcome:     callstate.Outcome(s.Outcome),
		StartedAt:   s.StartTS,
		Duration:    time.Duration(s.DurationS * float64(time.Second)),
	}, nil
}

package peers

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
)

// Directory holds every peer learned from announces and persists the set to
// a JSON file on each mutation.
type Directory struct {
	path  string
	self  crypto.NodeID
	clock crypto.TimeProvider

	mu      sync.RWMutex
	records map[crypto.NodeID]*Record
}

// NewDirectory loads the directory at path, creating an empty one when the
// file does not exist yet. self filters out our own announces. A nil clock
// selects the runtime clock.
func NewDirectory(path string, self crypto.NodeID, clock crypto.TimeProvider) (*Directory, error) {
	if path == "" {
		return nil, fmt.Errorf("directory path is empty")
	}
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}

	d := &Directory{
		path:    path,
		self:    self,
		clock:   clock,
		records: make(map[crypto.NodeID]*Record),
	}
	if err := d.load(); err != nil {
		return nil, fmt.Errorf("load peer directory: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDirectory",
		"path":     path,
		"peers":    len(d.records),
	}).Info("Peer directory ready")

	return d, nil
}

// HandleAnnounce processes one presence announce: validate the app_data,
// derive the node ID from the public key, check the claimed call destination
// against the derived one, then insert or refresh the record. Verified and
// Blocked survive updates. The returned Record is a copy.
func (d *Directory) HandleAnnounce(claimedDest crypto.DestinationHash, publicKey [32]byte, appData []byte) (Record, error) {
	ad, err := signaling.ParseAnnounceData(appData)
	if err != nil {
		return Record{}, err
	}

	nodeID := crypto.NodeIDFromPublicKey(publicKey)
	if nodeID == d.self {
		return Record{}, ErrSelfAnnounce
	}

	if err := crypto.VerifyDestination(publicKey, crypto.AspectCall, claimedDest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "HandleAnnounce",
			"node_id":      nodeID.Short(),
			"claimed_dest": claimedDest.Short(),
			"derived_dest": crypto.NewDestinationHash(nodeID, crypto.AspectCall).Short(),
		}).Warn("Announce destination does not match announced identity, dropping")
		return Record{}, err
	}

	name := clampDisplayName(ad.DisplayName)
	now := d.clock.Now()

	d.mu.Lock()
	rec, known := d.records[nodeID]
	if !known {
		rec = &Record{
			NodeID:      nodeID,
			PublicKey:   publicKey,
			DisplayName: DefaultDisplayName,
			FirstSeen:   now,
		}
		d.records[nodeID] = rec
	}
	rec.PublicKey = publicKey
	rec.CallDest = claimedDest
	rec.LastSeen = now
	rec.AnnounceCount++
	if name != "" {
		rec.DisplayName = name
	}
	out := *rec
	d.saveLocked()
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "HandleAnnounce",
		"node_id":        nodeID.Short(),
		"display_name":   out.DisplayName,
		"announce_count": out.AnnounceCount,
		"known":          known,
	}).Debug("Announce applied")

	return out, nil
}

// Resolve returns the record for a node ID.
func (d *Directory) Resolve(nodeID crypto.NodeID) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[nodeID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrPeerNotFound, nodeID.Short())
	}
	return *rec, nil
}

// SetVerified marks or clears the SAS verification flag.
func (d *Directory) SetVerified(nodeID crypto.NodeID, verified bool) error {
	return d.setFlag(nodeID, "verified", func(rec *Record) { rec.Verified = verified })
}

// SetBlocked marks or clears the blocked flag. Blocked peers have their
// invites rejected by the admission layer.
func (d *Directory) SetBlocked(nodeID crypto.NodeID, blocked bool) error {
	return d.setFlag(nodeID, "blocked", func(rec *Record) { rec.Blocked = blocked })
}

func (d *Directory) setFlag(nodeID crypto.NodeID, flag string, apply func(*Record)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, nodeID.Short())
	}
	apply(rec)
	d.saveLocked()

	logrus.WithFields(logrus.Fields{
		"function": "setFlag",
		"node_id":  nodeID.Short(),
		"flag":     flag,
	}).Info("Peer flag updated")

	return nil
}

// Remove deletes a peer from the directory.
func (d *Directory) Remove(nodeID crypto.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[nodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, nodeID.Short())
	}
	delete(d.records, nodeID)
	d.saveLocked()
	return nil
}

// List returns all records, most recently seen first.
func (d *Directory) List() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Len returns the number of known peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// clampDisplayName bounds inbound names to the signaling display budget
// without splitting a UTF-8 sequence.
func clampDisplayName(name string) string {
	if len(name) <= signaling.MaxDisplayName {
		return name
	}
	cut := name[:signaling.MaxDisplayName]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

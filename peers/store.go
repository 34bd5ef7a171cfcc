package peers

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/storage"
)

// storeVersion is the peers.json schema version.
const storeVersion = 1

type storeFile struct {
	Version int            `json:"version"`
	Peers   []storedRecord `json:"peers"`
}

// load reads the directory file. A missing file leaves the directory empty;
// individual records that fail to parse are skipped with a warning so one
// bad entry cannot take out the rest.
func (d *Directory) load() error {
	var file storeFile
	if err := storage.ReadJSON(d.path, &file); err != nil {
		return err
	}
	if file.Version == 0 {
		// No file yet.
		return nil
	}
	if file.Version != storeVersion {
		return fmt.Errorf("unsupported peers file version %d", file.Version)
	}

	for _, s := range file.Peers {
		rec, err := recordFromStored(s)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "load",
				"node_id":  s.NodeID,
				"error":    err,
			}).Warn("Skipping invalid peer record")
			continue
		}
		d.records[rec.NodeID] = rec
	}
	return nil
}

// saveLocked writes the directory atomically. Persistence failures are
// logged and otherwise ignored so a full disk cannot break live call
// handling. Caller holds d.mu.
func (d *Directory) saveLocked() {
	file := storeFile{Version: storeVersion, Peers: make([]storedRecord, 0, len(d.records))}
	for _, rec := range d.records {
		file.Peers = append(file.Peers, rec.toStored())
	}

	if err := storage.WriteJSON(d.path, &file, 0o600); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "saveLocked",
			"path":     d.path,
			"error":    err,
		}).Error("Failed to persist peer directory")
	}
}

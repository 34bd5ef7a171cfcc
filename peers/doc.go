// Package peers implements the persistent peer directory built from presence
// announces seen on the mesh.
//
// # Overview
//
// The directory is the only map from a peer's node ID to the things a call
// needs: the identity public key (for sealing signaling to them), the call
// destination hash (for addressing the invite), the display name, and the
// local trust flags. Entries are created and refreshed exclusively by
// announces; call messages never carry keys and never mutate the directory.
//
// # Records
//
// Record tracks one peer:
//
//	rec, err := dir.Resolve(nodeID)
//	if err != nil {
//	    // unknown peer: never announced to us
//	}
//	fmt.Println(rec.DisplayName, rec.Verified, rec.Blocked)
//
// Verified and Blocked are local judgments. They survive every announce
// update and are only changed through SetVerified and SetBlocked.
//
// # Announce Handling
//
// HandleAnnounce validates before it trusts: the app_data must identify this
// application, the announce must not be our own reflection, and the claimed
// call destination must equal the hash derived from the announced public
// key. An announce failing the hash check is dropped and logged, since it
// indicates either corruption or someone announcing a destination they do
// not own.
//
// # Persistence
//
// The directory persists to a versioned JSON file. Every mutation saves via
// a temp file and rename so a crash mid-write never truncates the previous
// good copy. Save failures are logged and the in-memory state stays
// authoritative for the session.
//
// # Thread Safety
//
// Directory is safe for concurrent use. Returned Records are copies.
package peers

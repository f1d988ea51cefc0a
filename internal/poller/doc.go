// Package poller implements the Snapshot Resync Poller.
//
// The poller:
//   - Fetches the room snapshot over REST every resync interval
//   - Skips the fetch while the Gate reports writes in flight or a live connection
//   - Hands fetched snapshots to a SnapshotHandler, which re-checks the gate on the loop
//
// It is the recovery path for rooms whose broadcasts stopped arriving.
package poller

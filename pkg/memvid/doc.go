// Package memvid implements a single-file embedded store for
// content-addressed byte payloads ("frames") with attached metadata.
//
// One .mv2 file holds everything: a fixed header, an embedded write-ahead
// log region, the frame payloads, serialized auxiliary index blobs, and a
// table-of-contents footer. Mutations buffer durably in the WAL and
// become visible atomically on [Memvid.Commit]; a crash at any point
// leaves the file recoverable to either the pre- or post-commit state.
//
// Typical usage:
//
//	mem, err := memvid.Create("notes.mv2")
//	if err != nil {
//	    return err
//	}
//	defer mem.Close()
//
//	id, err := mem.PutBytesWithOptions(data, memvid.PutOptions{Title: "doc"})
//	if err != nil {
//	    return err
//	}
//
//	if err := mem.Commit(); err != nil {
//	    return err
//	}
//
// Capacity is gated by control-plane tickets ([Memvid.ApplyTicket]) whose
// sequence numbers are strictly monotonic. A finished file can be sealed
// into an encrypted capsule with the capsule package.
package memvid

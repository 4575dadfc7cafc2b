package entity

import "time"

// FileDescriptor identifies one remote archive discovered for a symbol.
// Immutable once produced by discovery.
type FileDescriptor struct {
	Symbol       string
	Key          string // object key on the remote host
	Filename     string
	URL          string
	ChecksumURL  string // empty when the host has no sidecar for this archive
	Size         int64  // bytes, 0 when the listing did not report a size
	LastModified time.Time
}

// ItemKey is the uniqueness key of the descriptor within a run.
func (d FileDescriptor) ItemKey() string {
	return d.Symbol + "/" + d.Filename
}

// Manifest is the ordered, deduplicated list of archives discovered for
// one symbol. Order is the server's listing order.
type Manifest []FileDescriptor

package entity

import "time"

// TransferResult describes one finished download. Skipped means a matching
// local file made the network fetch unnecessary.
type TransferResult struct {
	LocalPath    string
	BytesWritten int64
	Elapsed      time.Duration
	Skipped      bool
}

// VerificationResult carries the outcome of the ordered checks on one
// archive. ContentHash is the digest of the extracted table, not of the
// archive itself.
type VerificationResult struct {
	ChecksumOK    bool
	ArchiveOK     bool
	SchemaOK      bool
	Rows          int
	ContentHash   string
	ExtractedPath string
}

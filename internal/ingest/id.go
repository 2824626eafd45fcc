package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// idPrefixLen is the number of hex characters kept from the content hash.
// 48 bits is plenty for a contest season and keeps IDs typeable.
const idPrefixLen = 12

// SubmissionID derives the content-addressed identifier for an upload.
// Same bytes, same ID, on every invocation.
func SubmissionID(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])[:idPrefixLen]
}

// ChildPageID names the Nth per-page child of a bulk-scanned batch.
func ChildPageID(parentID string, pageIndex int) string {
	return fmt.Sprintf("%s_p%d", parentID, pageIndex)
}

// ChildEntryID names the Nth entry of a multi-entry upload.
func ChildEntryID(parentID string, entryIndex int) string {
	return fmt.Sprintf("%s_e%d", parentID, entryIndex)
}

// Fingerprint returns the full content hash for the audit trace.
func Fingerprint(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])
}

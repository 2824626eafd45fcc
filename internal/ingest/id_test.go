package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionIDDeterministic(t *testing.T) {
	b := []byte("the same upload bytes")
	first := SubmissionID(b)
	second := SubmissionID(b)

	require.Equal(t, first, second)
	assert.Len(t, first, 12)
	assert.NotEqual(t, first, SubmissionID([]byte("different bytes")))
}

func TestChildIDs(t *testing.T) {
	assert.Equal(t, "abc123def456_p0", ChildPageID("abc123def456", 0))
	assert.Equal(t, "abc123def456_p4", ChildPageID("abc123def456", 4))
	assert.Equal(t, "abc123def456_e2", ChildEntryID("abc123def456", 2))
}

func TestFingerprintIsFullHash(t *testing.T) {
	fp := Fingerprint([]byte("x"))
	assert.Len(t, fp, 64)
	assert.Equal(t, fp[:12], SubmissionID([]byte("x")))
}

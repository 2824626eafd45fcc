package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasonCodesAddDedup(t *testing.T) {
	var codes ReasonCodes
	codes = codes.Add(ReasonMissingGrade)
	codes = codes.Add(ReasonShortEssay)
	codes = codes.Add(ReasonMissingGrade)

	require.Len(t, codes, 2)
	assert.Equal(t, "MISSING_GRADE;SHORT_ESSAY", codes.String())
}

func TestParseReasonCodesRoundTrip(t *testing.T) {
	codes := ParseReasonCodes("LOW_CONFIDENCE; OCR_FAILED;LOW_CONFIDENCE")
	require.Len(t, codes, 2)
	assert.True(t, codes.Contains(ReasonOCRFailed))
	assert.Equal(t, "LOW_CONFIDENCE;OCR_FAILED", codes.String())

	assert.Nil(t, ParseReasonCodes(""))
	assert.Nil(t, ParseReasonCodes("  "))
}

func TestStatusFinalized(t *testing.T) {
	assert.True(t, StatusProcessed.Finalized())
	assert.True(t, StatusApproved.Finalized())
	assert.False(t, StatusPendingReview.Finalized())
	assert.False(t, StatusFailed.Finalized())
}

func TestStageErrorWrapping(t *testing.T) {
	inner := errors.New("disk full")
	err := NewStageError(KindStorageError, "persist", inner)

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, KindStorageError, KindOf(err))
	assert.Contains(t, err.Error(), "persist")
	assert.Contains(t, err.Error(), "storage_error")

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestErrorKindTransient(t *testing.T) {
	assert.True(t, KindOCRError.Transient())
	assert.True(t, KindTimeout.Transient())
	assert.False(t, KindInputError.Transient())
	assert.False(t, KindCancelled.Transient())
}

func TestExtractedFieldsEmpty(t *testing.T) {
	assert.True(t, ExtractedFields{}.Empty())
	assert.False(t, ExtractedFields{Grade: "5"}.Empty())
}

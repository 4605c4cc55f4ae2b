package golden

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("VERIFIED")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, st)

	_, err = ParseStatus("verified")
	assert.Error(t, err)
}

func TestStatus_Active(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusVerified.Active())
	assert.True(t, StatusPublished.Active())
	assert.False(t, StatusArchived.Active())
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusVerified, true},
		{StatusVerified, StatusPublished, true},
		{StatusPending, StatusPublished, false},
		{StatusPublished, StatusVerified, false},
		{StatusPending, StatusArchived, true},
		{StatusPublished, StatusArchived, true},
		{StatusArchived, StatusPending, false},
		{StatusArchived, StatusArchived, false},
		{StatusVerified, StatusVerified, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

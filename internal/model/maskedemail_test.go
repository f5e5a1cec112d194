package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaskedEmailState_Valid(t *testing.T) {
	for _, s := range []MaskedEmailState{StatePending, StateEnabled, StateDisabled, StateDeleted} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, MaskedEmailState("archived").Valid())
	assert.False(t, MaskedEmailState("").Valid())
}

func TestMaskedEmail_CreatedDate(t *testing.T) {
	assert.Equal(t, "", MaskedEmail{}.CreatedDate())

	created := time.Date(2024, 1, 15, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-01-15", MaskedEmail{CreatedAt: &created}.CreatedDate())

	assert.Equal(t, "2024-01-15", MaskedEmail{CreatedAtRaw: "2024-01-15 garbled"}.CreatedDate())
	assert.Equal(t, "2024", MaskedEmail{CreatedAtRaw: "2024"}.CreatedDate())
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-15T10:30:00Z", "2024-01-15T10:30:00Z"},
		{"2024-01-15T10:30:00.123+01:00", "2024-01-15T09:30:00.123Z"},
		{"2024-01-15 10:30:00", "2024-01-15T10:30:00Z"},
		{"2024-01-15T10:30:00", "2024-01-15T10:30:00Z"},
		{"2024-01-15", "2024-01-15T00:00:00Z"},
		{" 2024-01-15 10:30:00 ", "2024-01-15T10:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseTimestamp(tt.in)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.Format(time.RFC3339Nano))
			}
		})
	}

	assert.Nil(t, ParseTimestamp(""))
	assert.Nil(t, ParseTimestamp("yesterday"))
}

func TestMaskedEmailUpdate_Empty(t *testing.T) {
	assert.True(t, MaskedEmailUpdate{}.Empty())

	desc := ""
	assert.False(t, MaskedEmailUpdate{Description: &desc}.Empty())
}

func TestFilterEnabled(t *testing.T) {
	emails := []MaskedEmail{
		{Email: "a@fastmail.com", State: StateEnabled},
		{Email: "b@fastmail.com", State: StateDisabled},
		{Email: "c@fastmail.com", State: StatePending},
		{Email: "d@fastmail.com", State: StateEnabled},
	}

	got := FilterEnabled(emails)
	assert.Len(t, got, 2)
	assert.Equal(t, "a@fastmail.com", got[0].Email)
	assert.Equal(t, "d@fastmail.com", got[1].Email)
	assert.Empty(t, FilterEnabled(nil))
}

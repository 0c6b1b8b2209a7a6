package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		collection string
		id         string
	}{
		{"boards", "main"},
		{"users", "kim@example.com"},
		{"tournaments", "봄 대회 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			key := EncodeKey(tt.collection, tt.id)
			assert.Regexp(t, `^[A-Za-z0-9_\-.]+$`, key)

			collection, id, err := DecodeKey(key)
			require.NoError(t, err)
			assert.Equal(t, tt.collection, collection)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestDecodeKeyRejectsGarbage(t *testing.T) {
	_, _, err := DecodeKey("nodot")
	assert.Error(t, err)

	_, _, err = DecodeKey("boards.!!!")
	assert.Error(t, err)
}

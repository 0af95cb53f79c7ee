package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/plyrelay/errors"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"abc.ply", true},
		{"2024/10/scan.ply", true},
		{"", false},
		{"/etc/passwd", false},
		{"../escape.ply", false},
		{"a/../../b", false},
		{"a//b", false},
		{"./a", false},
		{"a\\b", false},
		{"dir/", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidKey)
		})
	}
}

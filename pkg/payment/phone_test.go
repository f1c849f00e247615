package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone_equivalentFormats(t *testing.T) {
	inputs := []string{
		"0712345678",
		"+254712345678",
		"254712345678",
		"712345678",
		"0712 345 678",
		"+254-712-345-678",
	}
	for _, in := range inputs {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, "254712345678", got, in)
	}
}

func TestNormalizePhone_rejectsInvalid(t *testing.T) {
	inputs := []string{
		"",
		"07123",
		"07123456789",
		"0712abc678",
		"+1 415 555 0100",
		"255712345678",
	}
	for _, in := range inputs {
		_, err := NormalizePhone(in)
		assert.True(t, errors.Is(err, ErrInvalidPhone), "expected ErrInvalidPhone for %q", in)
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "25471****678", MaskPhone("254712345678"))
	assert.Equal(t, "***", MaskPhone("123"))
}

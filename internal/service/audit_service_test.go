package service

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	agent := "Mozilla/5.0 (Linux; Android 13) Teléfono"
	cut := truncate(agent, len(agent)-1)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, "Mozilla/5.0 (Linux; Android 13) Tel", truncate(agent, len("Mozilla/5.0 (Linux; Android 13) Telé")-1))
	assert.Equal(t, agent, truncate(agent, len(agent)))
}

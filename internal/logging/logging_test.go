package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetupLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Setup("debug", false)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup("warn", true)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Setup("loud", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	Setup("", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

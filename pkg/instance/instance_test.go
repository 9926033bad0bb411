package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefersEnv(t *testing.T) {
	t.Setenv("RXD_INSTANCE_ID", " api-7 ")
	assert.Equal(t, "api-7", ID())
}

func TestIDFallsBackToHost(t *testing.T) {
	t.Setenv("RXD_INSTANCE_ID", "")
	assert.NotEmpty(t, ID())
}

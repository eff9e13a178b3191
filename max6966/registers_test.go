package max6966

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterNames(t *testing.T) {
	assert.Equal(t, "PWMA", PWMA.String())
	assert.Equal(t, "NOOP", NoOp.String())
	assert.Equal(t, "REG(0x55)", Register(SentinelCmd).String())
}

func TestSentinelNeverARegister(t *testing.T) {
	for _, r := range append(Registers(), NoOp) {
		assert.NotEqual(t, SentinelCmd, byte(r), "sentinel collides with %s", r)
	}
}

func TestNoOpNotInDrivenRegisters(t *testing.T) {
	assert.NotContains(t, Registers(), NoOp)
}

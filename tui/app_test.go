package tui

import (
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/max6966"
	"lautenbacher.net/spimotor/sim"
	"lautenbacher.net/spimotor/status"
)

func newTestApp(t *testing.T) (*App, *sim.Chain, *status.Hub, chan os.Signal) {
	bus := sim.New(2)
	line := chain.NewLine(bus, bus)
	hub := status.NewHub()
	var cards []*card.Card
	for i, name := range []string{"left", "right"} {
		c, err := card.New(line, card.Options{Name: name, Position: i + 1, Total: 2, Status: hub})
		require.NoError(t, err)
		require.NoError(t, c.Begin())
		cards = append(cards, c)
	}
	sig := make(chan os.Signal, 2)
	return New(sig, hub, bus, cards), bus, hub, sig
}

func TestRenderCards(t *testing.T) {
	states := map[string]status.Card{
		"rear": {Name: "rear", Position: 2, Ready: true, Standby: true,
			A: status.Motor{Direction: "stop"}, B: status.Motor{Direction: "stop"}},
		"front": {Name: "front", Position: 1, Ready: true,
			A: status.Motor{Direction: "cw", Speed: 200}, B: status.Motor{Direction: "brake"}},
	}
	out := renderCards(states, nil)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "front")
	assert.Contains(t, lines[0], "A: cw    200")
	assert.Contains(t, lines[0], "[green]ready")
	assert.Contains(t, lines[1], "rear")
	assert.Contains(t, lines[1], "[yellow]standby")
}

func TestRenderCards_Registers(t *testing.T) {
	states := map[string]status.Card{
		"m": {Name: "m", Position: 1, Error: "card not ready [x]"},
	}
	regs := func(position int) map[max6966.Register]byte {
		assert.Equal(t, 1, position)
		return map[max6966.Register]byte{max6966.PWMA: 0xfe, max6966.STBY: 0x01}
	}
	out := renderCards(states, regs)
	assert.Contains(t, out, "[red]not ready[-]")
	assert.Contains(t, out, "STBY=01")
	assert.Contains(t, out, "PWMA=fe")
	assert.Contains(t, out, "AIN1=[gray]--[-]")
	assert.Contains(t, out, "card not ready [x[]", "error text must be escaped")
}

func TestHandleRune_DrivesSelectedCard(t *testing.T) {
	a, bus, hub, _ := newTestApp(t)

	assert.True(t, a.handleRune('2'))
	assert.True(t, a.handleRune('b'))
	assert.True(t, a.handleRune('c'))

	v, _ := bus.Register(2, max6966.BIN1)
	assert.Equal(t, max6966.High, v)
	v, _ = bus.Register(2, max6966.PWMB)
	assert.Equal(t, card.PWMRegister(128, false), v)
	_, touched := bus.Register(1, max6966.BIN1)
	assert.False(t, touched)

	st, ok := hub.Get("right")
	require.True(t, ok)
	assert.Equal(t, "cw", st.B.Direction)

	assert.True(t, a.handleRune('+'))
	v, _ = bus.Register(2, max6966.PWMB)
	assert.Equal(t, card.PWMRegister(144, false), v)
	assert.Contains(t, a.intro.GetText(true), "duty: 144")

	assert.True(t, a.handleRune('z'))
	v, _ = bus.Register(2, max6966.STBY)
	assert.Equal(t, max6966.Low, v)
	assert.True(t, a.handleRune('x'))
	v, _ = bus.Register(2, max6966.STBY)
	assert.Equal(t, max6966.High, v)
}

func TestHandleRune_DutyClamped(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	for i := 0; i < 20; i++ {
		a.handleRune('+')
	}
	assert.Equal(t, uint8(255), a.duty)
	for i := 0; i < 20; i++ {
		a.handleRune('-')
	}
	assert.Equal(t, uint8(0), a.duty)
}

func TestHandleRune_Signals(t *testing.T) {
	a, _, _, sig := newTestApp(t)
	assert.True(t, a.handleRune('r'))
	assert.Equal(t, syscall.SIGHUP, <-sig)
	assert.True(t, a.handleRune('q'))
	assert.Equal(t, os.Interrupt, <-sig)
}

func TestHandleRune_Unknown(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	assert.False(t, a.handleRune('9'), "no ninth card")
	assert.False(t, a.handleRune('?'))
}

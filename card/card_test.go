package card

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/max6966"
	"lautenbacher.net/spimotor/sim"
	"lautenbacher.net/spimotor/status"
)

// flakyBus corrupts every byte read back during the listed chip select
// cycles (counted from 1).
type flakyBus struct {
	*sim.Chain
	selects int
	corrupt map[int]bool
}

func (f *flakyBus) Low() {
	f.selects++
	f.Chain.Low()
}

func (f *flakyBus) Transfer(b byte) (byte, error) {
	got, err := f.Chain.Transfer(b)
	if f.corrupt[f.selects] {
		got ^= 0xFF
	}
	return got, err
}

func newCard(t *testing.T, boards, position int, opts Options) (*Card, *sim.Chain) {
	t.Helper()
	bus := sim.New(boards)
	line := chain.NewLine(bus, bus)
	opts.Position = position
	opts.Total = boards
	c, err := New(line, opts)
	require.NoError(t, err)
	require.NoError(t, c.Begin())
	bus.ResetEvents()
	return c, bus
}

func TestNew_InvalidPosition(t *testing.T) {
	bus := sim.New(2)
	line := chain.NewLine(bus, bus)
	_, err := New(line, Options{Name: "x", Position: 3, Total: 2})
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)
	_, err = New(line, Options{Position: 0, Total: 2})
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)
}

func TestNew_DefaultName(t *testing.T) {
	bus := sim.New(2)
	c, err := New(chain.NewLine(bus, bus), Options{Position: 2, Total: 2})
	require.NoError(t, err)
	assert.Equal(t, "card2", c.Name())
	assert.Equal(t, 2, c.Address().Position())
	assert.Equal(t, 2, c.Address().Total())
}

func TestNotReadyBeforeBegin(t *testing.T) {
	bus := sim.New(1)
	c, err := New(chain.NewLine(bus, bus), Options{Position: 1, Total: 1})
	require.NoError(t, err)
	bus.ResetEvents()

	assert.ErrorIs(t, c.SetDirection(A, CW), ErrNotReady)
	assert.ErrorIs(t, c.SetSpeed(B, 10), ErrNotReady)
	assert.ErrorIs(t, c.Standby(), ErrNotReady)
	assert.ErrorIs(t, c.Write(max6966.PWMA, 3), ErrNotReady)
	assert.Empty(t, bus.Events())
}

func TestBegin_LengthMismatch(t *testing.T) {
	bus := sim.New(2)
	c, err := New(chain.NewLine(bus, bus), Options{Name: "front", Position: 1, Total: 3})
	require.NoError(t, err)

	err = c.Begin()
	assert.ErrorIs(t, err, chain.ErrLengthMismatch)
	var mismatch *chain.LengthMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Detected)
	assert.False(t, c.Ready())
	assert.ErrorIs(t, c.Resume(), ErrNotReady)
}

func TestBegin_NotFound(t *testing.T) {
	bus := sim.New(1, sim.WithBrokenBoard(1))
	c, err := New(chain.NewLine(bus, bus), Options{Position: 1, Total: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Begin(), chain.ErrNotFound)
	assert.False(t, c.Ready())
}

func TestSingleCard_CWAtHalfSpeed(t *testing.T) {
	c, bus := newCard(t, 1, 1, Options{})

	require.NoError(t, c.SetDirectionAndSpeed(A, CW, 128))
	assert.Equal(t, []sim.Latch{
		{Reg: max6966.AIN1, Value: 1},
		{Reg: max6966.AIN2, Value: 0},
		{Reg: max6966.PWMA, Value: PWMRegister(128, false)},
	}, bus.Latches(1))
	assert.Equal(t, byte(128), PWMRegister(128, false))

	s := c.State()
	assert.Equal(t, "cw", s.A.Direction)
	assert.Equal(t, uint8(128), s.A.Speed)
	assert.Equal(t, "stop", s.B.Direction)
	assert.Empty(t, s.Error)
}

func TestDirectionTable(t *testing.T) {
	tests := []struct {
		dir      Direction
		in1, in2 byte
	}{
		{Stop, 0, 0},
		{Brake, 1, 1},
		{CW, 1, 0},
		{CCW, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			for _, ch := range []Channel{A, B} {
				c, bus := newCard(t, 1, 1, Options{})
				require.NoError(t, c.SetDirection(ch, tt.dir))
				r1, r2, _ := Registers(ch)
				assert.Equal(t, []sim.Latch{{Reg: r1, Value: tt.in1}, {Reg: r2, Value: tt.in2}}, bus.Latches(1))
			}
		})
	}
}

func TestStandbyResume(t *testing.T) {
	c, bus := newCard(t, 2, 2, Options{})

	require.NoError(t, c.Standby())
	assert.Equal(t, []sim.Latch{
		{Reg: max6966.STBY, Value: 0},
		{Reg: max6966.Config, Value: 0},
	}, bus.Latches(2))
	assert.True(t, c.State().Standby)

	bus.ResetEvents()
	require.NoError(t, c.Resume())
	assert.Equal(t, []sim.Latch{
		{Reg: max6966.STBY, Value: 1},
		{Reg: max6966.Config, Value: 1},
	}, bus.Latches(2))
	assert.False(t, c.State().Standby)
	assert.Empty(t, bus.Latches(1))
}

func TestStandby_FirstHalfFailsSecondStillWritten(t *testing.T) {
	base := sim.New(1)
	bus := &flakyBus{Chain: base, corrupt: map[int]bool{}}
	line := chain.NewLine(bus, bus)
	c, err := New(line, Options{Position: 1, Total: 1})
	require.NoError(t, err)
	require.NoError(t, c.Begin())
	base.ResetEvents()

	// calibration used select 1, the STBY write uses 2 and 3
	bus.corrupt[3] = true
	err = c.Standby()
	assert.ErrorIs(t, err, chain.ErrEchoMismatch)
	assert.Equal(t, []sim.Latch{
		{Reg: max6966.STBY, Value: 0},
		{Reg: max6966.Config, Value: 0},
	}, base.Latches(1), "the config write must still be attempted")
	assert.False(t, c.State().Standby)
	assert.NotEmpty(t, c.State().Error)
}

func TestSetDirectionAndSpeed_SpeedAttemptedAfterFailure(t *testing.T) {
	base := sim.New(1)
	bus := &flakyBus{Chain: base, corrupt: map[int]bool{}}
	c, err := New(chain.NewLine(bus, bus), Options{Position: 1, Total: 1})
	require.NoError(t, err)
	require.NoError(t, c.Begin())
	base.ResetEvents()

	bus.corrupt[5] = true // AIN2 write
	err = c.SetDirectionAndSpeed(A, CCW, 255)
	assert.ErrorIs(t, err, chain.ErrEchoMismatch)
	latches := base.Latches(1)
	require.Len(t, latches, 3)
	assert.Equal(t, sim.Latch{Reg: max6966.PWMA, Value: 254}, latches[2])
	assert.Equal(t, uint8(255), c.State().A.Speed)
	assert.Equal(t, "stop", c.State().A.Direction)
}

func TestSharedLine_ThreeCards(t *testing.T) {
	bus := sim.New(3)
	line := chain.NewLine(bus, bus)
	hub := status.NewHub()
	cards := make([]*Card, 3)
	for i := range cards {
		c, err := New(line, Options{Position: i + 1, Total: 3, Status: hub})
		require.NoError(t, err)
		require.NoError(t, c.Begin())
		cards[i] = c
	}
	bus.ResetEvents()

	require.NoError(t, cards[1].SetSpeed(B, 0))
	assert.Empty(t, bus.Latches(1))
	assert.Equal(t, []sim.Latch{{Reg: max6966.PWMB, Value: 3}}, bus.Latches(2))
	assert.Empty(t, bus.Latches(3))

	require.NoError(t, cards[2].SetDirection(A, Brake))
	v, _ := bus.Register(3, max6966.AIN1)
	assert.Equal(t, byte(1), v)
	_, ok := bus.Register(2, max6966.AIN1)
	assert.False(t, ok)

	snap := hub.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "brake", snap["card3"].A.Direction)
	assert.True(t, snap["card1"].Ready)
}

func TestInvertedPWMCard(t *testing.T) {
	c, bus := newCard(t, 1, 1, Options{InvertPWM: true})
	require.NoError(t, c.SetSpeed(A, 0))
	v, _ := bus.Register(1, max6966.PWMA)
	assert.Equal(t, byte(254), v)
}

func TestWrite_PinRegistersUpdateState(t *testing.T) {
	hub := status.NewHub()
	c, _ := newCard(t, 1, 1, Options{Name: "m", Status: hub})

	require.NoError(t, c.Write(max6966.BIN2, 1))
	assert.Equal(t, "ccw", c.State().B.Direction)
	require.NoError(t, c.Write(max6966.BIN1, 1))
	assert.Equal(t, "brake", c.State().B.Direction)
	require.NoError(t, c.Write(max6966.BIN2, 0))
	assert.Equal(t, "cw", c.State().B.Direction)
	assert.Equal(t, "stop", c.State().A.Direction)

	st, ok := hub.Get("m")
	require.True(t, ok)
	assert.Equal(t, "cw", st.B.Direction)

	// other registers leave the directions alone
	require.NoError(t, c.Write(max6966.PWMB, 0x80))
	assert.Equal(t, "cw", c.State().B.Direction)
}

func TestWrite_FailureReportedInState(t *testing.T) {
	base := sim.New(1)
	bus := &flakyBus{Chain: base, corrupt: map[int]bool{}}
	hub := status.NewHub()
	c, err := New(chain.NewLine(bus, bus), Options{Name: "m", Position: 1, Total: 1, Status: hub})
	require.NoError(t, err)
	require.NoError(t, c.Begin())

	bus.corrupt[3] = true // drain of the first write
	err = c.Write(max6966.AIN1, 1)
	assert.ErrorIs(t, err, chain.ErrEchoMismatch)
	assert.Equal(t, "stop", c.State().A.Direction)
	st, ok := hub.Get("m")
	require.True(t, ok)
	assert.Contains(t, st.Error, "echo mismatch")

	require.NoError(t, c.Write(max6966.AIN1, 1))
	assert.Empty(t, c.State().Error)
	assert.Equal(t, "cw", c.State().A.Direction)
}

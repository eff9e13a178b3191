package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/max6966"
	"lautenbacher.net/spimotor/sim"
)

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Trace(chain.Record{Sent: chain.Write(max6966.PWMA, byte(i))})
	}
	recs := h.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, byte(2), recs[0].Sent.Data, "oldest retained record")
	assert.Equal(t, byte(4), recs[2].Sent.Data, "newest record last")
	assert.Equal(t, 3, h.Len())
}

func TestHistory_DefaultDepth(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < defaultDepth+10; i++ {
		h.Trace(chain.Record{})
	}
	assert.Equal(t, defaultDepth, h.Len())
}

func TestHistory_Failures(t *testing.T) {
	h := NewHistory(10)
	h.Trace(chain.Record{})
	h.Trace(chain.Record{Err: errors.New("boom")})
	h.Trace(chain.Record{Kind: chain.KindDetect, Err: &chain.NotFoundError{Cycles: 9}})
	assert.Equal(t, 2, h.Failures())
}

func TestHistory_AsLineTracer(t *testing.T) {
	bus := sim.New(2)
	h := NewHistory(8)
	line := chain.NewLine(bus, bus, chain.WithTracer(h))
	require.NoError(t, line.Calibrate(2))
	addr, err := chain.NewAddress(2, 2)
	require.NoError(t, err)
	require.NoError(t, line.Transact(addr, chain.Write(max6966.STBY, 1)))

	recs := h.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, chain.KindDetect, recs[0].Kind)
	assert.Equal(t, chain.KindTransact, recs[1].Kind)
	assert.Equal(t, addr, recs[1].Addr)
	assert.Equal(t, 2, recs[0].Expected)
}

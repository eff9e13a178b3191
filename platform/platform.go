// Package platform brings up the SPI bus and the shared chip select pin the
// card chain hangs on. Backends exist for go-rpio, for periph.io and for a
// simulated chain.
package platform

import (
	"fmt"

	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/config"
	"lautenbacher.net/spimotor/sim"
	"tinygo.org/x/drivers"
)

// Platform owns the hardware a chain.Line needs. Bus and ChipSelect are only
// valid between Start and Stop.
type Platform interface {
	Start() error
	Stop()
	Bus() drivers.SPI
	ChipSelect() chain.ChipSelect
}

// New returns the backend selected by conf.Hardware.Backend. The sim options
// are only used by the simulation backend.
func New(conf *config.Config, simOpts ...sim.Option) (Platform, error) {
	switch conf.Hardware.Backend {
	case config.BackendRpio:
		return NewRpioPlatform(conf.Hardware), nil
	case config.BackendPeriph:
		return NewPeriphPlatform(conf.Hardware), nil
	case config.BackendSim:
		if conf.Hardware.SimBrokenCard > 0 {
			simOpts = append(simOpts, sim.WithBrokenBoard(conf.Hardware.SimBrokenCard))
		}
		return NewSimPlatform(conf.Chain.Total, simOpts...), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", conf.Hardware.Backend)
	}
}

// txBytes implements drivers.SPI Tx on top of a full duplex exchange that
// overwrites its buffer with the received bytes. Either w or r may be nil.
func txBytes(exchange func([]byte) error, w, r []byte) error {
	n := len(w)
	if n == 0 {
		n = len(r)
	}
	if w != nil && r != nil && len(w) != len(r) {
		return fmt.Errorf("spi tx: write length %d differs from read length %d", len(w), len(r))
	}
	buf := r
	if buf == nil {
		buf = make([]byte, n)
	}
	copy(buf, w)
	if w == nil {
		clear(buf)
	}
	return exchange(buf)
}

package platform

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/config"
	"tinygo.org/x/drivers"
)

// RpioPlatform drives SPI0 through /dev/gpiomem with go-rpio. The chip select
// is a plain GPIO output, so the hardware CE0 toggling per exchange does not
// interfere with bus cycles spanning many bytes.
type RpioPlatform struct {
	conf config.HardwareConfig
	bus  *rpioBus
	cs   rpio.Pin
}

func NewRpioPlatform(conf config.HardwareConfig) *RpioPlatform {
	return &RpioPlatform{conf: conf}
}

func (p *RpioPlatform) Start() error {
	slog.Info("Initialise GPIO and Spi (rpio)...", "cs", p.conf.CSPin, "frequency", p.conf.SPIFrequency)
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(p.conf.SPIFrequency)
	// mode 3: clock idles high, data sampled on the rising edge
	rpio.SpiMode(1, 1)

	// Reconfiguring the pin as output takes it away from the SPI block even
	// if it is CE0.
	p.cs = rpio.Pin(p.conf.CSPin)
	p.cs.Output()
	p.cs.High()

	p.bus = &rpioBus{exchange: rpio.SpiExchange}
	return nil
}

func (p *RpioPlatform) Stop() {
	if p.bus == nil {
		return
	}
	p.cs.High()
	p.cs.Input()
	rpio.SpiEnd(rpio.Spi0)
	if err := rpio.Close(); err != nil {
		slog.Error("Error closing rpio", "error", err)
	}
	p.bus = nil
}

func (p *RpioPlatform) Bus() drivers.SPI { return p.bus }

// ChipSelect returns the GPIO pin itself, rpio.Pin has Low and High.
func (p *RpioPlatform) ChipSelect() chain.ChipSelect { return p.cs }

// rpioBus adapts go-rpio's in-place exchange to drivers.SPI.
type rpioBus struct {
	exchange func([]byte)
}

func (b *rpioBus) Transfer(w byte) (byte, error) {
	buf := []byte{w}
	b.exchange(buf)
	return buf[0], nil
}

func (b *rpioBus) Tx(w, r []byte) error {
	return txBytes(func(buf []byte) error {
		b.exchange(buf)
		return nil
	}, w, r)
}

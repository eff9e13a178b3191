package platform

import (
	"fmt"
	"log/slog"

	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/config"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// PeriphPlatform uses the kernel spidev driver through periph.io. The kernel
// chip select is disabled and the configured GPIO is driven instead.
type PeriphPlatform struct {
	conf    config.HardwareConfig
	spiPort spi.PortCloser
	bus     *periphBus
	cs      *periphPin
}

func NewPeriphPlatform(conf config.HardwareConfig) *PeriphPlatform {
	return &PeriphPlatform{conf: conf}
}

func (p *PeriphPlatform) Start() error {
	slog.Info("Initialise GPIO and Spi (periph.io)...", "device", p.conf.SPIDevice, "cs", p.conf.CSPin)
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to init periph: %w", err)
	}

	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", p.conf.CSPin))
	if pin == nil {
		return fmt.Errorf("failed to find pin %d", p.conf.CSPin)
	}
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set pin %d to output: %w", p.conf.CSPin, err)
	}

	var err error
	p.spiPort, err = spireg.Open(p.conf.SPIDevice)
	if err != nil {
		pin.Halt()
		return fmt.Errorf("failed to open spi: %w", err)
	}
	conn, err := p.spiPort.Connect(physic.Frequency(p.conf.SPIFrequency)*physic.Hertz, spi.Mode3|spi.NoCS, 8)
	if err != nil {
		p.spiPort.Close()
		p.spiPort = nil
		pin.Halt()
		return fmt.Errorf("failed to connect to spi device: %w", err)
	}

	p.bus = &periphBus{conn: conn}
	p.cs = &periphPin{pin: pin}
	return nil
}

func (p *PeriphPlatform) Stop() {
	if p.spiPort != nil {
		if err := p.spiPort.Close(); err != nil {
			slog.Error("Error closing spi port", "error", err)
		}
		p.spiPort = nil
	}
	if p.cs != nil {
		p.cs.High()
		if err := p.cs.pin.Halt(); err != nil {
			slog.Error("Error halting chip select", "error", err)
		}
		p.cs = nil
	}
	p.bus = nil
}

func (p *PeriphPlatform) Bus() drivers.SPI { return p.bus }

func (p *PeriphPlatform) ChipSelect() chain.ChipSelect { return p.cs }

type periphBus struct {
	conn spi.Conn
}

func (b *periphBus) Transfer(w byte) (byte, error) {
	r := []byte{0}
	if err := b.conn.Tx([]byte{w}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (b *periphBus) Tx(w, r []byte) error {
	return txBytes(func(buf []byte) error {
		return b.conn.Tx(append([]byte(nil), buf...), buf)
	}, w, r)
}

// outPin is the part of gpio.PinIO the chip select needs.
type outPin interface {
	Out(l gpio.Level) error
	Name() string
	Halt() error
}

// periphPin turns a periph.io output into a chain.ChipSelect. A failing GPIO
// write can't be reported through the interface and is logged.
type periphPin struct {
	pin outPin
}

func (c *periphPin) Low()  { c.set(gpio.Low) }
func (c *periphPin) High() { c.set(gpio.High) }

func (c *periphPin) set(l gpio.Level) {
	if err := c.pin.Out(l); err != nil {
		slog.Error("Error driving chip select", "pin", c.pin.Name(), "level", l, "error", err)
	}
}

package platform

import (
	"log/slog"

	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/sim"
	"tinygo.org/x/drivers"
)

// SimPlatform serves a simulated chain, used by the TUI and when no hardware
// is attached.
type SimPlatform struct {
	chain *sim.Chain
}

// NewSimPlatform creates the chain. Register updates are logged at debug
// level unless opts install another latch hook.
func NewSimPlatform(boards int, opts ...sim.Option) *SimPlatform {
	opts = append([]sim.Option{sim.WithLatchHook(logLatch)}, opts...)
	return &SimPlatform{chain: sim.New(boards, opts...)}
}

func logLatch(position int, l sim.Latch) {
	slog.Debug("Simulated card latched", "card", position, "register", l.Reg.String(), "value", l.Value)
}

func (p *SimPlatform) Start() error {
	slog.Info("Using simulated chain", "boards", p.chain.Boards())
	return nil
}

func (p *SimPlatform) Stop() {}

func (p *SimPlatform) Bus() drivers.SPI { return p.chain }

func (p *SimPlatform) ChipSelect() chain.ChipSelect { return p.chain }

// Chain gives access to the simulated cards' registers.
func (p *SimPlatform) Chain() *sim.Chain { return p.chain }

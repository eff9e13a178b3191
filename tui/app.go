// Package tui shows the cards of a chain in the terminal and lets the user
// drive them with single keys. With the simulated chain it also shows the
// registers each card has latched.
package tui

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/exp/maps"

	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/logging"
	"lautenbacher.net/spimotor/max6966"
	"lautenbacher.net/spimotor/sim"
	"lautenbacher.net/spimotor/status"
)

const dutyStep = 16

// App is the terminal UI.
type App struct {
	tviewapp  *tview.Application
	intro     *tview.TextView
	chainView *tview.TextView
	logView   *tview.TextView

	ossignalChan chan os.Signal
	hub          *status.Hub
	chain        *sim.Chain
	cards        []*card.Card

	mu       sync.Mutex
	selected int
	channel  card.Channel
	duty     uint8

	logFlushOnce sync.Once
	readyChan    chan bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// New builds the UI. simChain may be nil when real hardware is attached.
func New(ossignalchan chan os.Signal, hub *status.Hub, simChain *sim.Chain, cards []*card.Card) *App {
	a := &App{
		ossignalChan: ossignalchan,
		hub:          hub,
		chain:        simChain,
		cards:        cards,
		duty:         128,
		readyChan:    make(chan bool),
		stopChan:     make(chan struct{}),
	}
	a.build()
	return a
}

// Ready is closed once the UI is drawn and the log output goes to its pane.
func (a *App) Ready() <-chan bool {
	return a.readyChan
}

func (a *App) introText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := "-"
	if a.selected < len(a.cards) {
		name = a.cards[a.selected].Name()
	}
	line1 := fmt.Sprintf("Card: [#ffff00]%s[white] channel: [#ffff00]%s[white] duty: [#ffff00]%-3d[white]", name, a.channel, a.duty)
	line2 := "[blue]1[-]..[blue]9[-] card, [blue]a[-]/[blue]b[-] channel, [blue]+[-]/[blue]-[-] duty, [blue]c[-] cw, [blue]w[-] ccw, [blue]s[-] stop, [blue]k[-] brake, [blue]z[-] standby, [blue]x[-] resume"
	line3 := "Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload, [#ff0000]Up/Down[-] to scroll logs"
	return fmt.Sprintf("%s\n%s\n%s", line1, line2, line3)
}

func (a *App) build() {
	a.tviewapp = tview.NewApplication()

	a.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.intro.SetText(a.introText())
	a.intro.SetBorder(true).SetTitle(" SPI Motor Chain ").SetTitleColor(tcell.ColorLightBlue)
	a.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	a.chainView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.chainView.SetBorder(true).SetTitle(" Cards ")
	a.chainView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	a.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			a.logView.ScrollToEnd()
			a.tviewapp.Draw()
		})
	a.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	a.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	rows := 2 * len(a.cards)
	if rows == 0 {
		rows = 1
	}
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.intro, 5, 0, false).
		AddItem(a.chainView, rows+2, 0, false).
		AddItem(a.logView, 0, 1, true)
	a.tviewapp.SetRoot(layout, true)

	a.tviewapp.SetAfterDrawFunc(func(screen tcell.Screen) {
		a.logFlushOnce.Do(func() {
			if err := logging.SetOutput(tview.ANSIWriter(a.logView)); err != nil {
				slog.Error("Can't redirect log output", "error", err)
			}
			close(a.readyChan)
		})
	})

	a.tviewapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.ossignalChan <- os.Interrupt
			return nil
		case tcell.KeyRune:
			if a.handleRune(event.Rune()) {
				return nil
			}
		case tcell.KeyUp:
			row, col := a.logView.GetScrollOffset()
			a.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := a.logView.GetScrollOffset()
			a.logView.ScrollTo(row+1, col)
			return nil
		}
		return event
	})
}

// handleRune executes a key command and reports whether the key was used.
func (a *App) handleRune(r rune) bool {
	switch {
	case r == 'q' || r == 'Q':
		a.ossignalChan <- os.Interrupt
	case r == 'r' || r == 'R':
		a.ossignalChan <- syscall.SIGHUP
	case r >= '1' && r <= '9':
		idx := int(r - '1')
		if idx >= len(a.cards) {
			return false
		}
		a.mu.Lock()
		a.selected = idx
		a.mu.Unlock()
	case r == 'a' || r == 'b':
		ch, _ := card.ParseChannel(string(r))
		a.mu.Lock()
		a.channel = ch
		a.mu.Unlock()
	case r == '+' || r == '-':
		a.mu.Lock()
		if r == '+' {
			a.duty = uint8(min(int(a.duty)+dutyStep, 255))
		} else {
			a.duty = uint8(max(int(a.duty)-dutyStep, 0))
		}
		a.mu.Unlock()
		a.apply(func(c *card.Card, ch card.Channel, duty uint8) error { return c.SetSpeed(ch, duty) })
	case r == 'c':
		a.drive(card.CW)
	case r == 'w':
		a.drive(card.CCW)
	case r == 's':
		a.drive(card.Stop)
	case r == 'k':
		a.drive(card.Brake)
	case r == 'z':
		a.apply(func(c *card.Card, _ card.Channel, _ uint8) error { return c.Standby() })
	case r == 'x':
		a.apply(func(c *card.Card, _ card.Channel, _ uint8) error { return c.Resume() })
	default:
		return false
	}
	a.intro.SetText(a.introText())
	return true
}

func (a *App) drive(d card.Direction) {
	a.apply(func(c *card.Card, ch card.Channel, duty uint8) error {
		return c.SetDirectionAndSpeed(ch, d, duty)
	})
}

func (a *App) apply(fn func(c *card.Card, ch card.Channel, duty uint8) error) {
	a.mu.Lock()
	if a.selected >= len(a.cards) {
		a.mu.Unlock()
		return
	}
	c, ch, duty := a.cards[a.selected], a.channel, a.duty
	a.mu.Unlock()

	if err := fn(c, ch, duty); err != nil {
		slog.Error("Card command failed", "card", c.Name(), "error", err)
	}
}

// Start runs the UI and a goroutine redrawing on every status change.
func (a *App) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.stopChan:
				return
			case <-a.hub.Channel():
				a.tviewapp.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	go func() {
		if err := a.tviewapp.Run(); err != nil {
			slog.Error("Error running TUI", "error", err)
			a.ossignalChan <- os.Interrupt
		}
	}()
	a.tviewapp.QueueUpdateDraw(a.refresh)
}

// Stop ends the UI and sends further log output to the buffer again.
func (a *App) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	logging.BufferOutput()
	a.tviewapp.Stop()
}

// refresh must run on the tview goroutine.
func (a *App) refresh() {
	var regs func(int) map[max6966.Register]byte
	if a.chain != nil {
		regs = a.chain.Registers
	}
	a.chainView.SetText(renderCards(a.hub.Snapshot(), regs))
}

// renderCards formats one line of state per card, ordered by position, and
// below it the card's latched registers if regs is set.
func renderCards(states map[string]status.Card, regs func(position int) map[max6966.Register]byte) string {
	names := maps.Keys(states)
	sort.Slice(names, func(i, j int) bool {
		return states[names[i]].Position < states[names[j]].Position
	})

	var buf strings.Builder
	for i, name := range names {
		if i > 0 {
			buf.WriteString("\n")
		}
		st := states[name]
		state := "[red]not ready[-]"
		switch {
		case st.Ready && st.Standby:
			state = "[yellow]standby[-]  "
		case st.Ready:
			state = "[green]ready[-]    "
		}
		fmt.Fprintf(&buf, " %d %-10s %s A: %-5s %3d  B: %-5s %3d",
			st.Position, name, state, st.A.Direction, st.A.Speed, st.B.Direction, st.B.Speed)
		if st.Error != "" {
			fmt.Fprintf(&buf, "  [red]%s[-]", tview.Escape(st.Error))
		}
		if regs != nil {
			buf.WriteString("\n   ")
			latched := regs(st.Position)
			for _, r := range max6966.Registers() {
				if v, ok := latched[r]; ok {
					fmt.Fprintf(&buf, " %s=%02x", r, v)
				} else {
					fmt.Fprintf(&buf, " %s=[gray]--[-]", r)
				}
			}
		}
	}
	return buf.String()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/config"
	"lautenbacher.net/spimotor/diag"
	"lautenbacher.net/spimotor/logging"
	"lautenbacher.net/spimotor/platform"
	"lautenbacher.net/spimotor/remote"
	"lautenbacher.net/spimotor/shell"
	"lautenbacher.net/spimotor/sim"
	"lautenbacher.net/spimotor/status"
	"lautenbacher.net/spimotor/tui"
)

const configSettle = 500 * time.Millisecond

type App struct {
	ossignal chan os.Signal
	cfile    string
	useTUI   bool

	conf     config.Config
	platform platform.Platform
	hub      *status.Hub
	history  *diag.History
	line     *chain.Line
	cards    []*card.Card
	bridge   *remote.Bridge
	ui       *tui.App
	sh       *shell.Shell
	web      *http.Server
}

func NewApp(ossignal chan os.Signal, cfile string, useTUI bool) *App {
	return &App{
		ossignal: ossignal,
		cfile:    cfile,
		useTUI:   useTUI,
	}
}

// initialise brings up the chain described by a.conf. Cards that fail their
// length check stay registered but refuse commands; that is logged, not fatal.
func (a *App) initialise() error {
	var err error
	a.platform, err = platform.New(&a.conf)
	if err != nil {
		return err
	}
	if err := a.platform.Start(); err != nil {
		return fmt.Errorf("failed to start platform: %w", err)
	}

	a.hub = status.NewHub()
	a.history = diag.NewHistory(a.conf.Chain.TraceDepth)
	a.line = chain.NewLine(a.platform.Bus(), a.platform.ChipSelect(),
		chain.WithTracer(a.history),
		chain.WithMaxDetectCycles(a.conf.Chain.MaxDetectCycles))

	a.cards, err = buildCards(a.line, &a.conf, a.hub)
	if err != nil {
		a.platform.Stop()
		return err
	}

	if a.useTUI {
		a.ui = tui.New(a.ossignal, a.hub, simChainOf(a.platform), a.cards)
		a.ui.Start()
		<-a.ui.Ready()
	}

	for _, c := range a.cards {
		if err := c.Begin(); err != nil {
			slog.Error("Card not usable", "card", c.Name(), "error", err)
		}
	}
	applyStartup(a.cards, a.conf.Startup)

	if a.conf.MQTT.Enabled {
		ctrls := make([]remote.Controller, len(a.cards))
		for i, c := range a.cards {
			ctrls[i] = c
		}
		a.bridge, err = remote.NewBridge(a.conf.MQTT.Broker, a.conf.MQTT.QoS, ctrls)
		if err == nil {
			err = a.bridge.Start()
		}
		if err != nil {
			slog.Error("MQTT bridge not available", "error", err)
			a.bridge = nil
		}
	}

	if a.conf.Web.Enabled {
		a.startWeb()
	}
	return nil
}

// startWeb serves the card states and the runtime configuration.
func (a *App) startWeb() {
	mux := http.NewServeMux()
	mux.Handle("/api/status", a.hub)
	mux.Handle("/api/config", config.ConfigHandler(a.cfile))
	a.web = &http.Server{Addr: a.conf.Web.Listen, Handler: mux}
	go func(srv *http.Server) {
		slog.Info("Web API listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web API stopped", "error", err)
		}
	}(a.web)
}

// startShell runs the interactive shell on the current chain. Leaving the
// shell ends the program.
func (a *App) startShell() {
	a.sh = shell.New(a.line, a.history, a.cards)
	go func(sh *shell.Shell) {
		sh.Run()
		select {
		case a.ossignal <- os.Interrupt:
		default:
		}
	}(a.sh)
}

func (a *App) shutdown() {
	if a.sh != nil {
		a.sh.Close()
		a.sh = nil
	}
	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := a.web.Shutdown(ctx); err != nil {
			slog.Error("Web API shutdown", "error", err)
		}
		cancel()
		a.web = nil
	}
	if a.bridge != nil {
		a.bridge.Stop()
		a.bridge = nil
	}
	// leave the motors stopped
	for _, c := range a.cards {
		if !c.Ready() {
			continue
		}
		if err := errors.Join(
			c.SetDirectionAndSpeed(card.A, card.Stop, 0),
			c.SetDirectionAndSpeed(card.B, card.Stop, 0),
		); err != nil {
			slog.Error("Failed to stop motors", "card", c.Name(), "error", err)
		}
	}
	if a.ui != nil {
		a.ui.Stop()
		a.ui = nil
	}
	if a.platform != nil {
		a.platform.Stop()
		a.platform = nil
	}
	a.cards = nil
}

// reload re-reads the configuration and restarts everything. On a broken
// config file the old configuration is used again.
func (a *App) reload() error {
	slog.Info("Reloading configuration", "file", a.cfile)
	a.shutdown()
	conf, err := config.ReadConfig(a.cfile)
	if err != nil {
		slog.Error("Keeping old configuration", "error", err)
	} else {
		a.conf = conf
	}
	return a.initialise()
}

func buildCards(line *chain.Line, conf *config.Config, hub *status.Hub) ([]*card.Card, error) {
	names := conf.CardNames()
	cards := make([]*card.Card, 0, len(names))
	for _, name := range names {
		cfg := conf.Cards[name]
		c, err := card.New(line, card.Options{
			Name:      name,
			Position:  cfg.Position,
			Total:     conf.Chain.Total,
			InvertPWM: cfg.InvertPWM,
			Status:    hub,
		})
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// applyStartup runs the configured startup commands. The config has been
// validated, so only bus errors are expected here.
func applyStartup(cards []*card.Card, cmds []config.StartupCmd) {
	byName := make(map[string]*card.Card, len(cards))
	for _, c := range cards {
		byName[c.Name()] = c
	}
	for _, cmd := range cmds {
		c, ok := byName[cmd.Card]
		if !ok || !c.Ready() {
			slog.Warn("Skipping startup command", "card", cmd.Card)
			continue
		}
		ch, _ := card.ParseChannel(cmd.Channel)
		d, _ := card.ParseDirection(cmd.Direction)
		if err := c.SetDirectionAndSpeed(ch, d, uint8(cmd.Speed)); err != nil {
			slog.Error("Startup command failed", "card", cmd.Card, "error", err)
		}
	}
}

// simChainOf returns the simulated chain behind p, nil for real hardware.
func simChainOf(p platform.Platform) *sim.Chain {
	if sp, ok := p.(*platform.SimPlatform); ok {
		return sp.Chain()
	}
	return nil
}

func main() {
	cfile := flag.String("c", config.CONFILE, "Path to the configuration file")
	useTUI := flag.Bool("tui", false, "Show the terminal UI")
	useShell := flag.Bool("shell", false, "Start the interactive shell")
	flag.Parse()

	if *useTUI && *useShell {
		fmt.Fprintln(os.Stderr, "-tui and -shell can't be used together")
		os.Exit(2)
	}

	conf, err := config.ReadConfig(*cfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logConf := conf.Logging.HW
	if *useTUI {
		logConf = conf.Logging.TUI
	}
	if err := logging.Init(*useTUI, logConf); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
		os.Exit(2)
	}
	defer logging.Close()

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	app := NewApp(ossignal, *cfile, *useTUI)
	app.conf = conf
	if err := app.initialise(); err != nil {
		slog.Error("Start up failed", "error", err)
		logging.Close()
		os.Exit(1)
	}

	watcher, err := config.Watch(*cfile, configSettle, func() { ossignal <- syscall.SIGHUP })
	if err != nil {
		slog.Warn("Config file is not watched", "error", err)
	} else {
		defer watcher.Close()
	}

	if *useShell {
		app.startShell()
	}

	for sig := range ossignal {
		if sig == syscall.SIGHUP {
			if *useShell {
				slog.Warn("Reload ignored while the shell is running")
				continue
			}
			if err := app.reload(); err != nil {
				slog.Error("Reload failed", "error", err)
				break
			}
			continue
		}
		slog.Info("Shutting down", "signal", sig)
		break
	}
	app.shutdown()
}

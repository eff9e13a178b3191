// Package shell provides an interactive command line for poking at the motor
// cards on a running chain.
package shell

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/abiosoft/ishell"
	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/diag"
	"lautenbacher.net/spimotor/stepper"
)

const prompt = "spimotor > "

// Shell is the ishell backed command line.
type Shell struct {
	Shell *ishell.Shell

	line     *chain.Line
	history  *diag.History
	cards    map[string]*card.Card
	names    []string
	commands map[string]command

	mu       sync.Mutex
	steppers map[string]*stepper.Stepper
}

type command struct {
	name  string
	usage string
	help  string
	nargs []int
	run   func(args []string) (string, error)
}

// New creates a shell for the cards on line. history may be nil.
func New(line *chain.Line, history *diag.History, cards []*card.Card) *Shell {
	s := &Shell{
		Shell:    ishell.New(),
		line:     line,
		history:  history,
		cards:    make(map[string]*card.Card, len(cards)),
		commands: make(map[string]command),
		steppers: make(map[string]*stepper.Stepper),
	}
	for _, c := range cards {
		s.cards[c.Name()] = c
		s.names = append(s.names, c.Name())
	}
	s.Shell.SetPrompt(prompt)

	for _, cmd := range []command{
		{"cards", "", "list the cards and their state", []int{0}, s.listCards},
		{"dir", "CARD CH DIR", "set direction (stop, cw, ccw, brake) of channel A or B", []int{3}, s.setDirection},
		{"speed", "CARD CH DUTY", "set the duty cycle 0..255 of a channel", []int{3}, s.setSpeed},
		{"drive", "CARD CH DIR DUTY", "set direction and duty cycle of a channel", []int{4}, s.drive},
		{"standby", "CARD", "put a card into standby", []int{1}, s.standby},
		{"resume", "CARD", "wake a card from standby", []int{1}, s.resume},
		{"step", "CARD STEP [DUTY]", "move a stepper on the card to an absolute step", []int{2, 3}, s.step},
		{"detect", "N", "run the chain length detection expecting N cards", []int{1}, s.detect},
		{"trace", "", "show the recent bus cycles", []int{0}, s.trace},
	} {
		s.add(cmd)
	}
	return s
}

func (s *Shell) add(cmd command) {
	s.commands[cmd.name] = cmd
	help := cmd.help
	if cmd.usage != "" {
		help = cmd.usage + ": " + help
	}
	s.Shell.AddCmd(&ishell.Cmd{
		Name: cmd.name,
		Help: help,
		Func: func(c *ishell.Context) {
			out, err := s.Do(cmd.name, c.Args...)
			if err != nil {
				c.Err(err)
				return
			}
			if out != "" {
				c.Println(out)
			}
		},
	})
}

// Do runs one command and returns what it would print.
func (s *Shell) Do(name string, args ...string) (string, error) {
	cmd, ok := s.commands[name]
	if !ok {
		return "", fmt.Errorf("unknown command %q", name)
	}
	for _, n := range cmd.nargs {
		if len(args) == n {
			return cmd.run(args)
		}
	}
	return "", fmt.Errorf("usage: %s %s", cmd.name, cmd.usage)
}

// Run starts the interactive loop. It returns when the user exits.
func (s *Shell) Run() {
	s.Shell.Println("Motor card shell, type help for the commands")
	s.Shell.Run()
}

// Close stops the interactive loop.
func (s *Shell) Close() {
	s.Shell.Close()
}

func (s *Shell) card(name string) (*card.Card, error) {
	c, ok := s.cards[name]
	if !ok {
		return nil, fmt.Errorf("unknown card %q (have %s)", name, strings.Join(s.names, ", "))
	}
	return c, nil
}

func parseDuty(arg string) (uint8, error) {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 || v > 255 {
		return 0, fmt.Errorf("duty must be a number between 0 and 255, got %q", arg)
	}
	return uint8(v), nil
}

func (s *Shell) listCards([]string) (string, error) {
	var b strings.Builder
	for i, name := range s.names {
		if i > 0 {
			b.WriteByte('\n')
		}
		st := s.cards[name].State()
		state := "not ready"
		switch {
		case st.Ready && st.Standby:
			state = "standby"
		case st.Ready:
			state = "ready"
		}
		fmt.Fprintf(&b, "%-10s %s %-9s A=%s/%d B=%s/%d", name, s.cards[name].Address(), state,
			st.A.Direction, st.A.Speed, st.B.Direction, st.B.Speed)
		if st.Error != "" {
			fmt.Fprintf(&b, " error: %s", st.Error)
		}
	}
	return b.String(), nil
}

func (s *Shell) setDirection(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	ch, err := card.ParseChannel(args[1])
	if err != nil {
		return "", err
	}
	d, err := card.ParseDirection(args[2])
	if err != nil {
		return "", err
	}
	return "OK", c.SetDirection(ch, d)
}

func (s *Shell) setSpeed(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	ch, err := card.ParseChannel(args[1])
	if err != nil {
		return "", err
	}
	duty, err := parseDuty(args[2])
	if err != nil {
		return "", err
	}
	return "OK", c.SetSpeed(ch, duty)
}

func (s *Shell) drive(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	ch, err := card.ParseChannel(args[1])
	if err != nil {
		return "", err
	}
	d, err := card.ParseDirection(args[2])
	if err != nil {
		return "", err
	}
	duty, err := parseDuty(args[3])
	if err != nil {
		return "", err
	}
	return "OK", c.SetDirectionAndSpeed(ch, d, duty)
}

func (s *Shell) standby(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	return "OK", c.Standby()
}

func (s *Shell) resume(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	return "OK", c.Resume()
}

func (s *Shell) step(args []string) (string, error) {
	c, err := s.card(args[0])
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return "", fmt.Errorf("bad step %q: %w", args[1], err)
	}

	s.mu.Lock()
	st, ok := s.steppers[c.Name()]
	if !ok {
		st = stepper.New(c)
		s.steppers[c.Name()] = st
	}
	s.mu.Unlock()

	if len(args) == 3 {
		duty, err := parseDuty(args[2])
		if err != nil {
			return "", err
		}
		err = st.StepWithSpeed(uint32(n), duty)
		return fmt.Sprintf("at step %d", st.Position()), err
	}
	err = st.Step(uint32(n))
	return fmt.Sprintf("at step %d", st.Position()), err
}

func (s *Shell) detect(args []string) (string, error) {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return "", fmt.Errorf("bad card count %q", args[0])
	}
	detected, err := s.line.DetectCount(n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("detected %d cards", detected), nil
}

func (s *Shell) trace([]string) (string, error) {
	if s.history == nil {
		return "tracing disabled", nil
	}
	return FormatRecords(s.history.Records()) + fmt.Sprintf("\n%d of %d cycles failed", s.history.Failures(), s.history.Len()), nil
}

// FormatRecords renders bus cycles one per line, oldest first.
func FormatRecords(records []chain.Record) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %-8s ", r.Time.Format("15:04:05.000"), r.Kind)
		if r.Kind == chain.KindDetect {
			fmt.Fprintf(&b, "expected=%d detected=%d", r.Expected, r.Detected)
		} else {
			fmt.Fprintf(&b, "card=%s sent=%s echo=%s", r.Addr, r.Sent, r.Echo)
		}
		if r.Err != nil {
			fmt.Fprintf(&b, " error: %v", r.Err)
		}
	}
	return b.String()
}

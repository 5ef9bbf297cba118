// Package badge renders recording state: a toolbar-style badge for the
// terminal and the in-page recording indicator.
package badge

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	color "github.com/fatih/color"
)

// State is what the badge shows.
type State string

const (
	Idle       State = "idle"
	Recording  State = "recording"
	Processing State = "processing"
	Error      State = "error"
)

// Style is the fixed text and colours of one state.
type Style struct {
	Text       string
	Background string
	Foreground string
}

var styles = map[State]Style{
	Idle:       {Text: "", Background: "#22c55e", Foreground: "#ffffff"},
	Recording:  {Text: "REC", Background: "#ef4444", Foreground: "#ffffff"},
	Processing: {Text: "...", Background: "#f59e0b", Foreground: "#ffffff"},
	Error:      {Text: "!", Background: "#dc2626", Foreground: "#ffffff"},
}

// StyleFor returns the style of s; unknown states render as idle.
func StyleFor(s State) Style {
	if st, ok := styles[s]; ok {
		return st
	}
	return styles[Idle]
}

// CountText is the badge text for a step count.
func CountText(n int) string {
	if n > 99 {
		return "99+"
	}
	return strconv.Itoa(n)
}

// Presenter is implemented by every badge surface.
type Presenter interface {
	Set(s State)
	SetCount(n int)
}

// Terminal draws the badge as a coloured label on a writer. It only
// writes when the visible result changes.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	state    State
	text     string
	bg       string
	rendered string
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, state: Idle}
}

// Set switches to state s.
func (t *Terminal) Set(s State) {
	st := StyleFor(s)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
	t.text = st.Text
	t.bg = st.Background
	t.render()
}

// SetCount shows a step count while recording. Zero reverts to the
// plain recording badge.
func (t *Terminal) SetCount(n int) {
	if n <= 0 {
		t.Set(Recording)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Recording
	t.text = CountText(n)
	t.bg = styles[Recording].Background
	t.render()
}

// State returns the current state.
func (t *Terminal) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Text returns the current badge text.
func (t *Terminal) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *Terminal) render() {
	key := t.text + "|" + t.bg
	if key == t.rendered {
		return
	}
	t.rendered = key

	r, g, b := hexRGB(t.bg)
	label := color.New(color.Bold).Add(color.FgWhite)
	label.AddBgRGB(r, g, b)
	fmt.Fprintf(t.out, "%s %s\n", label.Sprintf(" %-3s ", t.text), t.state)
}

func hexRGB(hex string) (int, int, int) {
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0
	}
	return r, g, b
}

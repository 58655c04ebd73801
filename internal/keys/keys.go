// Package keys turns raw terminal input into rover driving actions, so the
// rover can be driven in manual mode from an SSH session.
package keys

import (
	"bufio"
	"context"
	"errors"
	"io"

	"soil-rover/internal/nav"
)

type ActionKind int

const (
	Drive ActionKind = iota
	ModeManual
	ModeAuto
	SpeedUp
	SpeedDown
	Quit
)

// Action is one decoded keystroke. Key is set for Drive actions only.
type Action struct {
	Kind ActionKind
	Key  nav.Key
}

const esc = 0x1b

// Decoder maps bytes from a raw-mode terminal to actions. Arrow keys arrive as
// ESC [ A..D and may be split across reads, so a trailing ESC or ESC [ is held
// until the next read. Quitting is q, Ctrl-C or Ctrl-D; ESC never quits.
type Decoder struct {
	pending []byte
}

func (d *Decoder) Feed(b []byte) []Action {
	var out []Action
	buf := append(d.pending, b...)
	d.pending = nil

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if c == esc {
			if i+1 >= len(buf) || (buf[i+1] == '[' && i+2 >= len(buf)) {
				d.pending = append([]byte(nil), buf[i:]...)
				return out
			}
			if buf[i+1] == '[' {
				if k, ok := arrow(buf[i+2]); ok {
					out = append(out, Action{Kind: Drive, Key: k})
				}
				i += 2
				continue
			}
			// ESC x is an Alt chord; both bytes are dropped.
			i++
			continue
		}
		if a, ok := plain(c); ok {
			out = append(out, a)
		}
	}
	return out
}

func arrow(c byte) (nav.Key, bool) {
	switch c {
	case 'A':
		return nav.Forward, true
	case 'B':
		return nav.Backward, true
	case 'C':
		return nav.RotateRight, true
	case 'D':
		return nav.RotateLeft, true
	}
	return nav.KeyNone, false
}

func plain(c byte) (Action, bool) {
	switch c {
	case 'w', 'W':
		return Action{Kind: Drive, Key: nav.Forward}, true
	case 's', 'S':
		return Action{Kind: Drive, Key: nav.Backward}, true
	case 'a', 'A':
		return Action{Kind: Drive, Key: nav.RotateLeft}, true
	case 'd', 'D':
		return Action{Kind: Drive, Key: nav.RotateRight}, true
	case ' ':
		return Action{Kind: Drive, Key: nav.Trigger}, true
	case 'm', 'M':
		return Action{Kind: ModeManual}, true
	case 'o', 'O':
		return Action{Kind: ModeAuto}, true
	case '+', '=':
		return Action{Kind: SpeedUp}, true
	case '-', '_':
		return Action{Kind: SpeedDown}, true
	case 'q', 'Q', 0x03, 0x04: // Ctrl-C, Ctrl-D
		return Action{Kind: Quit}, true
	}
	return Action{}, false
}

// Run reads r until EOF, ctx is done or a Quit action is handled, passing
// every action to handle. A read blocked on a terminal is not interrupted by
// ctx; Run returns after the next keystroke.
func Run(ctx context.Context, r io.Reader, handle func(Action)) error {
	br := bufio.NewReader(r)
	var d Decoder
	buf := make([]byte, 64)
	for {
		n, err := br.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, a := range d.Feed(buf[:n]) {
			handle(a)
			if a.Kind == Quit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

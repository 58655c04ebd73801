package nav

import (
	"fmt"
	"strings"
)

// Key is a manual drive command.
type Key int

const (
	KeyNone Key = iota
	Forward
	Backward
	RotateLeft
	RotateRight
	// Trigger starts a sample analysis at the current position.
	Trigger
)

func (k Key) String() string {
	switch k {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case RotateLeft:
		return "rotate_left"
	case RotateRight:
		return "rotate_right"
	case Trigger:
		return "trigger"
	default:
		return fmt.Sprintf("Key(%d)", int(k))
	}
}

// ParseKey accepts command names as well as browser key names.
func ParseKey(s string) (Key, error) {
	if s == " " {
		return Trigger, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "up", "arrowup":
		return Forward, nil
	case "backward", "back", "down", "arrowdown":
		return Backward, nil
	case "rotate_left", "rotateleft", "left", "arrowleft":
		return RotateLeft, nil
	case "rotate_right", "rotateright", "right", "arrowright":
		return RotateRight, nil
	case "trigger", "space", "sample":
		return Trigger, nil
	default:
		return KeyNone, fmt.Errorf("unknown key %q", s)
	}
}

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

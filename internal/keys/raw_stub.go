//go:build !linux

package keys

import "fmt"

func MakeRaw(fd int) (restore func() error, err error) {
	return nil, fmt.Errorf("keys: raw terminal mode unsupported on this platform")
}

func IsTerminal(fd int) bool { return false }

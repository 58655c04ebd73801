package indicator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"soil-rover/internal/analysis"
)

// line is a single digital output.
type line interface {
	SetValue(v int) error
	Close() error
}

// Indicator drives an LED from the analysis phase: steady on while a sample
// is taken, blinking while the reading is reported, off otherwise.
type Indicator struct {
	mu    sync.Mutex
	out   line
	name  string
	level int
	phase analysis.Phase
}

// LineName normalizes a configured line: "17" becomes "GPIO17", names are
// passed through.
func LineName(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return fmt.Sprintf("GPIO%d", n)
	}
	return s
}

// Open requests the named GPIO line as an output, initially low.
func Open(name string) (*Indicator, error) {
	name = LineName(name)
	if name == "" {
		return nil, fmt.Errorf("indicator: empty line name")
	}
	out, err := openLineFn(name)
	if err != nil {
		return nil, err
	}
	return &Indicator{out: out, name: name}, nil
}

func (i *Indicator) Name() string { return i.name }

// Update applies phase. During Reporting each call toggles the output, so the
// blink rate is the caller's polling rate.
func (i *Indicator) Update(phase analysis.Phase) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil {
		return nil
	}

	want := 0
	switch phase {
	case analysis.Sampling:
		want = 1
	case analysis.Reporting:
		if i.phase == analysis.Reporting {
			want = 1 - i.level
		} else {
			want = 1
		}
	}
	i.phase = phase
	if want == i.level {
		return nil
	}
	if err := i.out.SetValue(want); err != nil {
		return fmt.Errorf("indicator %s: %w", i.name, err)
	}
	i.level = want
	return nil
}

// Run polls phase every interval until ctx is done, then turns the output off.
func (i *Indicator) Run(ctx context.Context, interval time.Duration, phase func() analysis.Phase) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	defer func() { _ = i.Update(analysis.Idle) }()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := i.Update(phase()); err != nil {
				if err.Error() != lastErr {
					log.Printf("%v", err)
				}
				lastErr = err.Error()
				continue
			}
			lastErr = ""
		}
	}
}

func (i *Indicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil {
		return nil
	}
	_ = i.out.SetValue(0)
	err := i.out.Close()
	i.out = nil
	return err
}

// Package spinning provides a friendly spinning symbol, along with the elapsed time, to use
// while the program waits on something, and the handling of interruptions (Ctrl+C).
package spinning

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

// Spinning display, created with New.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()
}

var (
	ThemeAscii = []rune(`|/-\`)
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme defaults to ThemeAscii, but it can be set to anything else.
	Theme = ThemeAscii

	// Output of the spinning display.
	Output io.Writer = os.Stdout

	// Interval between updates.
	Interval = 500 * time.Millisecond
)

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program haven't exited after gracePeriod, it will call Reset to reset the terminal
// and exit.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before exiting.
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n") // Restore cursor and colors.
}

// New starts a spinning display, prefixed by message, that runs on a separate goroutine.
// It stops when Spinning.Done is called or when ctx is done.
func New(ctx context.Context, message string) *Spinning {
	s := &Spinning{}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()
		_, _ = fmt.Fprint(Output, "\033[?25l")                    // Hide cursor.
		defer func() { _, _ = fmt.Fprint(Output, "\033[?25h") }() // Restore cursor.

		for idx := 0; ; idx = (idx + 1) % len(Theme) {
			elapsed := time.Since(start).Round(time.Second)
			_, _ = fmt.Fprintf(Output, "\r%s %c %s\033[0K", message, Theme[idx], elapsed)
			select {
			case <-ctx.Done():
				_, _ = fmt.Fprint(Output, "\r\033[0K")
				return
			case <-ticker.C:
				// continue
			}
		}
	}()
	return s
}

// Done stops the spinning display and waits for it to clear the line.
func (s *Spinning) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

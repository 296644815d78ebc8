package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
)

// Signal registration, replaceable in tests.
var (
	notifySignals = signal.Notify
	stopSignals   = signal.Stop
)

// cancelOnSignal returns a context that is cancelled on SIGINT or SIGTERM.
// The bridge reacts by interrupting the child, so a killed helper does not
// leave `git credential` running in the nested environment. Only the first
// signal is handled; a second one gets the default action.
func cancelOnSignal(parent context.Context, logger *log.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var once sync.Once
	release := func() {
		once.Do(func() { stopSignals(sigCh) })
	}

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			release()
			logger.Debug("received signal, stopping child", "signal", sig)
			cancel(fmt.Errorf("received %s", sig))
		case <-done:
		}
	}()

	return ctx, func() {
		release()
		close(done)
		cancel(nil)
	}
}

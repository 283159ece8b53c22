package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
)

// Shutdown is the process-wide stop flag. It is set at most once and never
// cleared.
type Shutdown struct {
	flag   atomic.Bool
	once   sync.Once
	done   chan struct{}
	reason atomic.Value
}

// NewShutdown creates an unset flag.
func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Trigger sets the flag. Only the first call has an effect; it reports whether
// this call was the one that set it.
func (s *Shutdown) Trigger(reason string) bool {
	first := false
	s.once.Do(func() {
		first = true
		s.reason.Store(reason)
		s.flag.Store(true)
		close(s.done)
		logger.Info("Shutdown requested", zap.String("reason", reason))
	})
	return first
}

// IsSet reports whether shutdown was requested.
func (s *Shutdown) IsSet() bool {
	return s.flag.Load()
}

// Done is closed once shutdown is requested.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// Reason returns what triggered the shutdown, or "".
func (s *Shutdown) Reason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return ""
}

// WatchSignals sets s on the first SIGINT or SIGTERM. It returns when a signal
// arrives, s is set some other way, or ctx is done.
func WatchSignals(ctx context.Context, s *Shutdown) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.Trigger("received " + sig.String())
	case <-s.Done():
	case <-ctx.Done():
	}
}

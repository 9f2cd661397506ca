// Package notify delivers escalation and alert events to the configured
// channels. Delivery is fire-and-forget from the caller's perspective:
// failures are collected and logged, never propagated as aborts.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/apiforge/warden/internal/model"
)

// Event is the payload handed to every channel.
type Event struct {
	Type      string            `json:"type"`
	Priority  model.SlaPriority `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]any    `json:"payload,omitempty"`
}

// Sender is one delivery channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Fanout dispatches an event to all channels concurrently and joins before
// returning. A failing channel never aborts its siblings; failures are
// aggregated into the returned error.
type Fanout struct {
	senders  []Sender
	timeout  time.Duration
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewFanout(senders []Sender, timeout time.Duration, logger *log.Logger, level model.LogLevel) *Fanout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fanout{
		senders:  senders,
		timeout:  timeout,
		logger:   logger,
		logLevel: level,
	}
}

func (f *Fanout) Send(ctx context.Context, evt Event) error {
	if len(f.senders) == 0 {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var mu sync.Mutex
	var errs *multierror.Error

	// Plain errgroup (no shared cancel) so one failed channel cannot cancel
	// the others mid-send.
	var g errgroup.Group
	for _, sender := range f.senders {
		sender := sender
		g.Go(func() error {
			if err := sender.Send(sendCtx, evt); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", sender.Name(), err))
				mu.Unlock()
				f.log(model.LogLevelWarn, "send_failed channel=%s event=%s error=%v",
					sender.Name(), evt.Type, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	f.log(model.LogLevelDebug, "sent event=%s channels=%d", evt.Type, len(f.senders))
	return nil
}

func (f *Fanout) log(level model.LogLevel, format string, args ...any) {
	if level < f.logLevel || f.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	f.logger.Printf("%s %s notify: %s", time.Now().Format(time.RFC3339), level, msg)
}

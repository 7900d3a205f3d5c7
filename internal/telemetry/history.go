package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/indi-watchdog/internal/restart"
	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

const (
	historyQueueSize    = 64
	historyWriteTimeout = 5 * time.Second
	defaultPruneEvery   = time.Hour
)

// Pruner deletes history older than a cutoff. *restart.SQLiteHistory
// satisfies it.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// HistoryRecorder stores fired restarts. Events are queued and written by
// Run so the sweep never waits on the database; when the queue is full
// the event is dropped and logged.
type HistoryRecorder struct {
	watchdog.NopObserver
	history restart.History
	logger  Logger
	queue   chan restart.Event

	pruner     Pruner
	keep       time.Duration
	pruneEvery time.Duration
}

// NewHistoryRecorder creates a recorder writing to history.
func NewHistoryRecorder(history restart.History) *HistoryRecorder {
	return &HistoryRecorder{
		history: history,
		logger:  noopLogger{},
		queue:   make(chan restart.Event, historyQueueSize),

		pruneEvery: defaultPruneEvery,
	}
}

// SetRetention makes Run delete events older than keep, once at start and
// then hourly. keep <= 0 keeps everything.
func (h *HistoryRecorder) SetRetention(p Pruner, keep time.Duration) {
	h.pruner = p
	h.keep = keep
}

// SetLogger sets the logger for the recorder.
func (h *HistoryRecorder) SetLogger(logger Logger) {
	h.logger = logger
}

// OnRestart queues fired restarts for Run. Suppressed requests are not
// recorded.
func (h *HistoryRecorder) OnRestart(report watchdog.RestartReport) {
	if !report.Fired {
		return
	}
	select {
	case h.queue <- report.Event:
	default:
		h.logger.Warn("restart history queue full, event dropped",
			"driver", report.Event.Driver,
			"reason", report.Event.Reason,
		)
	}
}

// Run writes queued events until ctx is cancelled, then drains what is
// already queued. Retention pruning, if set, happens on the same goroutine.
func (h *HistoryRecorder) Run(ctx context.Context) {
	var pruneTick <-chan time.Time
	if h.pruner != nil && h.keep > 0 {
		h.prune()
		ticker := time.NewTicker(h.pruneEvery)
		defer ticker.Stop()
		pruneTick = ticker.C
	}

	for {
		select {
		case ev := <-h.queue:
			h.record(ev)
		case <-pruneTick:
			h.prune()
		case <-ctx.Done():
			for {
				select {
				case ev := <-h.queue:
					h.record(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *HistoryRecorder) record(ev restart.Event) {
	// Independent of the run context so the final drain still writes.
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := h.history.Record(ctx, ev); err != nil {
		h.logger.Error("recording restart history", "driver", ev.Driver, "error", err)
	}
}

func (h *HistoryRecorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	n, err := h.pruner.Prune(ctx, h.keep)
	if err != nil {
		h.logger.Error("pruning restart history", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("pruned restart history", "removed", n, "older_than", h.keep)
	}
}

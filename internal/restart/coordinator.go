package restart

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Delivery is what a Primitive did for one restart.
type Delivery struct {
	// DriverPath is the driver executable named in the restart command.
	DriverPath string
	// PIDs are the driver processes running just before the restart.
	PIDs []int32
}

// Primitive performs one driver restart.
type Primitive interface {
	Restart(driver string) (Delivery, error)
}

// PrimitiveFunc adapts a function to Primitive.
type PrimitiveFunc func(driver string) (Delivery, error)

// Restart calls f(driver).
func (f PrimitiveFunc) Restart(driver string) (Delivery, error) {
	return f(driver)
}

// Result describes the outcome of one restart request.
type Result struct {
	Driver string
	// Fired is true when the primitive was invoked.
	Fired bool
	// Immediate marks requests that bypassed the counter.
	Immediate bool
	// Strikes is the driver's counter after the request.
	Strikes int
	// Err is the primitive's error when Fired and delivery failed.
	Err error
	At  time.Time

	// DriverPath and PIDs come from the primitive when Fired.
	DriverPath string
	PIDs       []int32
}

// Coordinator debounces driver restart requests.
//
// Each driver has a strike counter, created on its first request. The first
// request for a driver fires immediately. After that a request fires only
// when the counter has reached limit-1, and the counter then resets to 0;
// otherwise the counter is incremented and nothing happens. With limit 3 the
// 1st, 4th, 7th... requests for a driver fire.
//
// Counters are independent per driver and live only in memory.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Coordinator struct {
	mu          sync.Mutex
	limit       int
	strikes     map[string]int
	primitive   Primitive
	retryFailed bool
	logger      Logger
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryFailed controls what happens to the counter when a fired restart
// could not be delivered. When enabled the driver is left at limit-1, so
// its next request fires again instead of waiting out a full cycle.
func WithRetryFailed(enabled bool) Option {
	return func(c *Coordinator) {
		c.retryFailed = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator.
//
// Parameters:
//   - limit: Requests per fired restart once a driver is known; values below 1 are treated as 1
//   - primitive: The restart channel
//   - opts: Optional settings
func NewCoordinator(limit int, primitive Primitive, opts ...Option) *Coordinator {
	if limit < 1 {
		limit = 1
	}
	c := &Coordinator{
		limit:     limit,
		strikes:   make(map[string]int),
		primitive: primitive,
		logger:    noopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestRestart registers a restart request for driver and reports
// whether the restart fired.
func (c *Coordinator) RequestRestart(driver string) bool {
	return c.Request(driver).Fired
}

// Request is RequestRestart with the full result.
func (c *Coordinator) Request(driver string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Driver: driver, At: c.now()}

	count, known := c.strikes[driver]
	switch {
	case !known, count >= c.limit-1:
		res.Fired = true
		c.fire(&res)
		c.strikes[driver] = 0
		if res.Err != nil && c.retryFailed {
			c.strikes[driver] = c.limit - 1
		}
	default:
		c.strikes[driver] = count + 1
		c.logger.Info("driver restart suppressed",
			"driver", driver,
			"strikes", count+1,
			"limit", c.limit,
		)
	}

	res.Strikes = c.strikes[driver]
	return res
}

// RequestImmediateRestart fires the primitive for driver regardless of its
// counter. The counter is left untouched.
func (c *Coordinator) RequestImmediateRestart(driver string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Driver: driver, Fired: true, Immediate: true, At: c.now()}
	c.fire(&res)
	res.Strikes = c.strikes[driver]
	return res
}

// Reset clears every counter.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strikes = make(map[string]int)
}

// Strikes returns the counter for driver and whether the driver is known.
func (c *Coordinator) Strikes(driver string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.strikes[driver]
	return n, ok
}

// Limit returns the trigger limit.
func (c *Coordinator) Limit() int {
	return c.limit
}

// fire must be called with c.mu held.
func (c *Coordinator) fire(res *Result) {
	c.logger.Info("restarting driver", "driver", res.Driver)
	delivery, err := c.primitive.Restart(res.Driver)
	res.DriverPath = delivery.DriverPath
	res.PIDs = delivery.PIDs
	res.Err = err
	if err != nil {
		c.logger.Error("driver restart failed", "driver", res.Driver, "error", err)
	}
}

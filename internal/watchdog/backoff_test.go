package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowBackOff(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := newWindowBackOff(5*time.Second, clock)
	b.mark()

	now = now.Add(2 * time.Second)
	assert.Equal(t, 3*time.Second, b.NextBackOff())

	now = now.Add(3 * time.Second)
	assert.Equal(t, time.Duration(0), b.NextBackOff())

	now = now.Add(time.Minute)
	assert.Equal(t, time.Duration(0), b.NextBackOff())

	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())
}

package restart

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProbe struct {
	asked string
}

func (s *stubProbe) PIDs(driver string) ([]int32, error) {
	s.asked = driver
	return []int32{42}, nil
}

func TestFIFORestarter_Command(t *testing.T) {
	r := NewFIFORestarter("/usr/bin", "/tmp/indiserverFIFO")

	assert.Equal(t, "/usr/bin/indi_eqmod_telescope", r.DriverPath("indi_eqmod_telescope"))
	assert.Equal(t,
		"stop /usr/bin/indi_eqmod_telescope\nstart /usr/bin/indi_eqmod_telescope\n",
		r.Command("indi_eqmod_telescope"),
	)
}

func TestFIFORestarter_WritesToReader(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "indiserverFIFO")
	require.NoError(t, syscall.Mkfifo(fifo, 0600))

	// Open the read end first so the non-blocking writer finds a reader.
	reader, err := os.OpenFile(fifo, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer reader.Close()

	probe := &stubProbe{}
	r := NewFIFORestarter("/opt/indi/bin", fifo)
	r.SetProcessProbe(probe)

	delivery, err := r.Restart("indi_asi_ccd")
	require.NoError(t, err)
	assert.Equal(t, "indi_asi_ccd", probe.asked)
	assert.Equal(t, "/opt/indi/bin/indi_asi_ccd", delivery.DriverPath)
	assert.Equal(t, []int32{42}, delivery.PIDs)

	buf := make([]byte, 256)
	n, err := reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	assert.Equal(t, "stop /opt/indi/bin/indi_asi_ccd\nstart /opt/indi/bin/indi_asi_ccd\n", string(buf[:n]))
}

func TestFIFORestarter_NoReader(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "indiserverFIFO")
	require.NoError(t, syscall.Mkfifo(fifo, 0600))

	r := NewFIFORestarter("/usr/bin", fifo)
	r.SetProcessProbe(&stubProbe{})

	delivery, err := r.Restart("indi_asi_ccd")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.Equal(t, "/usr/bin/indi_asi_ccd", delivery.DriverPath, "failed attempts still report what they tried")
	assert.Equal(t, []int32{42}, delivery.PIDs)
}

func TestFIFORestarter_MissingFIFO(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "missing")

	_, err := NewFIFORestarter("/usr/bin", fifo).Restart("indi_asi_ccd")
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	_, statErr := os.Stat(fifo)
	assert.True(t, os.IsNotExist(statErr), "the FIFO must never be created")
}

func TestFIFORestarter_InvalidDriver(t *testing.T) {
	r := NewFIFORestarter("/usr/bin", "/tmp/x")

	for _, driver := range []string{"", "../bin/sh", "a\nstop b"} {
		delivery, err := r.Restart(driver)
		assert.ErrorIs(t, err, ErrInvalidDriver, driver)
		assert.Empty(t, delivery.DriverPath)
	}
}

func TestFIFORestarter_ProbeErrorStillRestarts(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "indiserverFIFO")
	require.NoError(t, syscall.Mkfifo(fifo, 0600))
	reader, err := os.OpenFile(fifo, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer reader.Close()

	r := NewFIFORestarter("/usr/bin", fifo)
	r.SetProcessProbe(failingProbe{})

	delivery, err := r.Restart("indi_asi_ccd")
	require.NoError(t, err)
	assert.Empty(t, delivery.PIDs)
}

type failingProbe struct{}

func (failingProbe) PIDs(string) ([]int32, error) {
	return nil, errors.New("proc unavailable")
}

func TestSystemProbe_NoMatch(t *testing.T) {
	pids, err := SystemProbe{}.PIDs("indi_driver_that_does_not_exist_anywhere")
	require.NoError(t, err)
	assert.Empty(t, pids)
}

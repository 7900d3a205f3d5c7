package restart

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemProbe_FindsSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	pids, err := SystemProbe{Timeout: 5 * time.Second}.PIDs(filepath.Base(exe))
	require.NoError(t, err)
	assert.Contains(t, pids, int32(os.Getpid()))
}

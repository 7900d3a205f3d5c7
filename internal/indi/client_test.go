package indi

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/indi-watchdog/internal/bus"
)

const waitFor = 2 * time.Second

// mockServer is a single-connection INDI server.
type mockServer struct {
	t        *testing.T
	listener net.Listener
	conns    chan net.Conn
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &mockServer{t: t, listener: l, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { l.Close() })
	return s
}

func (s *mockServer) addr() string {
	return s.listener.Addr().String()
}

func (s *mockServer) accept() (net.Conn, *bufio.Reader) {
	s.t.Helper()
	select {
	case conn := <-s.conns:
		s.t.Cleanup(func() { conn.Close() })
		return conn, bufio.NewReader(conn)
	case <-time.After(waitFor):
		s.t.Fatal("client did not connect")
		return nil, nil
	}
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(line)
}

func send(t *testing.T, conn net.Conn, xmlText string) {
	t.Helper()
	_, err := conn.Write([]byte(xmlText))
	require.NoError(t, err)
}

// recorder collects handler calls.
type recorder struct {
	mu        sync.Mutex
	announced []bus.RemoteHandle
	removed   []string
	defined   []bus.Property
	updated   []bus.Property
	deleted   []bus.Property
	failures  []error
	signal    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 256)}
}

func (r *recorder) handlers() bus.Handlers {
	note := func(fn func()) {
		r.mu.Lock()
		fn()
		r.mu.Unlock()
		r.signal <- struct{}{}
	}
	return bus.Handlers{
		DeviceAnnounced:  func(h bus.RemoteHandle) { note(func() { r.announced = append(r.announced, h) }) },
		DeviceRemoved:    func(n string) { note(func() { r.removed = append(r.removed, n) }) },
		PropertyDefined:  func(p bus.Property) { note(func() { r.defined = append(r.defined, p) }) },
		PropertyUpdated:  func(p bus.Property) { note(func() { r.updated = append(r.updated, p) }) },
		PropertyRemoved:  func(p bus.Property) { note(func() { r.deleted = append(r.deleted, p) }) },
		ConnectionFailed: func(err error) { note(func() { r.failures = append(r.failures, err) }) },
	}
}

func (r *recorder) waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		r.mu.Lock()
		ok := cond()
		r.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatal("condition not met in time")
		}
	}
}

const ccdDefinition = `<defSwitchVector device="CCD Simulator" name="CONNECTION" label="Connection" group="Main Control" state="Idle" perm="rw" rule="OneOfMany" timeout="60">
    <defSwitch name="CONNECT" label="Connect">
Off
    </defSwitch>
    <defSwitch name="DISCONNECT" label="Disconnect">
On
    </defSwitch>
</defSwitchVector>
<defNumberVector device="CCD Simulator" name="CCD_TEMPERATURE" label="Temperature" group="Main Control" state="Idle" perm="rw" timeout="60">
    <defNumber name="CCD_TEMPERATURE_VALUE" label="Temperature (C)" format="%5.2f" min="-50" max="50" step="0">20</defNumber>
</defNumberVector>
`

func connectClient(t *testing.T) (*Client, *recorder, net.Conn, *bufio.Reader) {
	t.Helper()
	srv := newMockServer(t)
	rec := newRecorder()
	c := NewClient(Config{Address: srv.addr(), ConnectTimeout: time.Second}, rec.handlers())
	t.Cleanup(func() { c.Close() })

	c.Connect()
	conn, r := srv.accept()
	assert.Equal(t, `<getProperties version="1.7"></getProperties>`, readLine(t, conn, r))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	return c, rec, conn, r
}

func TestClient_AnnouncesDevices(t *testing.T) {
	c, rec, conn, _ := connectClient(t)

	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.defined) == 2 })

	rec.mu.Lock()
	require.Len(t, rec.announced, 1, "announced once on first definition")
	h := rec.announced[0]
	rec.mu.Unlock()

	assert.Equal(t, "CCD Simulator", h.Name())
	assert.True(t, h.Valid())
	assert.False(t, h.Connected())

	temp, ok := h.(*Device).Property("CCD_TEMPERATURE")
	require.True(t, ok)
	assert.Equal(t, KindNumber, temp.Kind)
	assert.Equal(t, "20", temp.Members["CCD_TEMPERATURE_VALUE"])
	assert.Len(t, c.Devices(), 1)
}

func TestClient_TracksConnectionSwitch(t *testing.T) {
	_, rec, conn, _ := connectClient(t)

	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.announced) == 1 })
	rec.mu.Lock()
	h := rec.announced[0]
	rec.mu.Unlock()

	send(t, conn, `<setSwitchVector device="CCD Simulator" name="CONNECTION" state="Ok" timeout="60" message="connected">
<oneSwitch name="CONNECT">On</oneSwitch>
<oneSwitch name="DISCONNECT">Off</oneSwitch>
</setSwitchVector>`)
	rec.waitUntil(t, func() bool { return len(rec.updated) == 1 })
	assert.True(t, h.Connected())

	// Updates for undefined properties are ignored.
	send(t, conn, `<setNumberVector device="CCD Simulator" name="NOPE" state="Ok"><oneNumber name="X">1</oneNumber></setNumberVector>`)
	send(t, conn, `<setSwitchVector device="CCD Simulator" name="CONNECTION" state="Ok">
<oneSwitch name="CONNECT">Off</oneSwitch>
<oneSwitch name="DISCONNECT">On</oneSwitch>
</setSwitchVector>`)
	rec.waitUntil(t, func() bool { return len(rec.updated) == 2 })
	assert.False(t, h.Connected())
}

func TestClient_SendConnection(t *testing.T) {
	c, rec, conn, r := connectClient(t)

	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.announced) == 1 })
	rec.mu.Lock()
	h := rec.announced[0]
	rec.mu.Unlock()

	require.NoError(t, c.SendConnection(h, true))
	assert.Equal(t,
		`<newSwitchVector device="CCD Simulator" name="CONNECTION"><oneSwitch name="CONNECT">On</oneSwitch><oneSwitch name="DISCONNECT">Off</oneSwitch></newSwitchVector>`,
		readLine(t, conn, r))

	require.NoError(t, c.SendConnection(h, false))
	assert.Equal(t,
		`<newSwitchVector device="CCD Simulator" name="CONNECTION"><oneSwitch name="CONNECT">Off</oneSwitch><oneSwitch name="DISCONNECT">On</oneSwitch></newSwitchVector>`,
		readLine(t, conn, r))

	assert.Equal(t, uint64(2), c.Stats().RequestsTx)
}

func TestClient_SendConnectionWithoutProperty(t *testing.T) {
	c, rec, conn, _ := connectClient(t)

	send(t, conn, `<defTextVector device="GPS" name="DRIVER_INFO" state="Idle" perm="ro"><defText name="DRIVER_NAME">GPSD</defText></defTextVector>`)
	rec.waitUntil(t, func() bool { return len(rec.announced) == 1 })
	rec.mu.Lock()
	h := rec.announced[0]
	rec.mu.Unlock()

	assert.ErrorIs(t, c.SendConnection(h, true), bus.ErrNoConnectionProperty)
	assert.False(t, h.Connected(), "missing connection property reads as disconnected")
	assert.ErrorIs(t, c.SendConnection(nil, true), bus.ErrInvalidHandle)
}

func TestClient_DeleteProperty(t *testing.T) {
	c, rec, conn, _ := connectClient(t)

	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.defined) == 2 })
	rec.mu.Lock()
	h := rec.announced[0]
	rec.mu.Unlock()

	send(t, conn, `<delProperty device="CCD Simulator" name="CONNECTION"/>`)
	rec.waitUntil(t, func() bool { return len(rec.deleted) == 1 })
	assert.True(t, h.Valid())
	assert.ErrorIs(t, c.SendConnection(h, true), bus.ErrNoConnectionProperty)

	send(t, conn, `<delProperty device="CCD Simulator"/>`)
	rec.waitUntil(t, func() bool { return len(rec.removed) == 1 })
	assert.Equal(t, "CCD Simulator", rec.removed[0])
	assert.False(t, h.Valid())
	assert.ErrorIs(t, c.SendConnection(h, true), bus.ErrInvalidHandle)
	assert.Empty(t, c.Devices())
}

func TestClient_ConnectionLost(t *testing.T) {
	c, rec, conn, _ := connectClient(t)

	send(t, conn, ccdDefinition)
	send(t, conn, `<defSwitchVector device="Telescope Simulator" name="CONNECTION" state="Idle" perm="rw" rule="OneOfMany">
<defSwitch name="CONNECT">On</defSwitch><defSwitch name="DISCONNECT">Off</defSwitch></defSwitchVector>`)
	rec.waitUntil(t, func() bool { return len(rec.announced) == 2 })

	conn.Close()
	rec.waitUntil(t, func() bool { return len(rec.failures) == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t, []string{"CCD Simulator", "Telescope Simulator"}, rec.removed)
	assert.ErrorIs(t, rec.failures[0], ErrConnectionLost)
	for _, h := range rec.announced {
		assert.False(t, h.Valid())
	}
	assert.False(t, c.IsConnected())
	assert.Equal(t, uint64(1), c.Stats().Disconnects)
}

func TestClient_ReconnectAfterLoss(t *testing.T) {
	srv := newMockServer(t)
	rec := newRecorder()
	c := NewClient(Config{Address: srv.addr()}, rec.handlers())
	defer c.Close()

	c.Connect()
	conn, _ := srv.accept()
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	conn.Close()
	rec.waitUntil(t, func() bool { return len(rec.failures) == 1 })

	c.Connect()
	conn2, r2 := srv.accept()
	assert.Contains(t, readLine(t, conn2, r2), "getProperties")
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	assert.Equal(t, uint64(2), c.Stats().Connects)
}

func TestClient_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	rec := newRecorder()
	c := NewClient(Config{Address: addr, ConnectTimeout: 500 * time.Millisecond}, rec.handlers())
	defer c.Close()

	c.Connect()
	rec.waitUntil(t, func() bool { return len(rec.failures) == 1 })

	assert.ErrorIs(t, rec.failures[0], ErrConnectionFailed)
	assert.False(t, c.IsConnected())
}

func TestClient_CloseSilencesHandlers(t *testing.T) {
	c, rec, conn, _ := connectClient(t)

	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.defined) == 2 })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	rec.mu.Lock()
	failures, removed := len(rec.failures), len(rec.removed)
	rec.mu.Unlock()
	assert.Zero(t, failures, "closing is not a failure")
	assert.Zero(t, removed)
	assert.False(t, c.IsConnected())
	assert.True(t, errors.Is(c.SendConnection(rec.announced[0], true), bus.ErrSessionClosed))

	c.Connect()
	assert.False(t, c.IsConnected(), "a closed client never reconnects")
}

func TestClient_IgnoresUnknownElements(t *testing.T) {
	_, rec, conn, _ := connectClient(t)

	send(t, conn, `<message device="CCD Simulator" timestamp="2026-03-01T21:00:00" message="hello"/>`)
	send(t, conn, `<pingRequest uid="1"/>`)
	send(t, conn, ccdDefinition)
	rec.waitUntil(t, func() bool { return len(rec.defined) == 2 })
}

func TestElementKind(t *testing.T) {
	tests := []struct {
		in, op, kind string
	}{
		{"defSwitchVector", "def", KindSwitch},
		{"setNumberVector", "set", KindNumber},
		{"defBLOBVector", "def", KindBLOB},
		{"newSwitchVector", "", ""},
		{"defFooVector", "", ""},
		{"delProperty", "", ""},
	}
	for _, tt := range tests {
		op, kind := elementKind(tt.in)
		assert.Equal(t, tt.op, op, tt.in)
		assert.Equal(t, tt.kind, kind, tt.in)
	}
}

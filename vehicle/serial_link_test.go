package vehicle

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/trackmesh/protocol"
)

// fakePort is a serial port backed by a pipe. Tests write to device to
// simulate bytes arriving from the dongle.
type fakePort struct {
	r      *io.PipeReader
	device *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, device: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) bytesWritten() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func openerFor(p *fakePort) PortOpener {
	return func(path string, baudRate int) (Port, error) { return p, nil }
}

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) add(f []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) get() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func TestFrameSplitter(t *testing.T) {
	ping := []byte{1, protocol.MsgPingResponse}
	battery := []byte{3, protocol.MsgBatteryResponse, 0x10, 0x0F}

	tests := []struct {
		name   string
		chunks [][]byte
		want   [][]byte
	}{
		{
			name:   "one frame per chunk",
			chunks: [][]byte{ping, battery},
			want:   [][]byte{ping, battery},
		},
		{
			name:   "two frames in one chunk",
			chunks: [][]byte{append(append([]byte(nil), ping...), battery...)},
			want:   [][]byte{ping, battery},
		},
		{
			name:   "frame split across chunks",
			chunks: [][]byte{battery[:1], battery[1:3], battery[3:]},
			want:   [][]byte{battery},
		},
		{
			name:   "zero length bytes are skipped",
			chunks: [][]byte{{0, 0}, ping},
			want:   [][]byte{ping},
		},
		{
			name:   "incomplete tail is held",
			chunks: [][]byte{battery[:2]},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s frameSplitter
			var got [][]byte
			for _, c := range tt.chunks {
				got = append(got, s.feed(c)...)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerialLink_ReadsFrames(t *testing.T) {
	port := newFakePort()
	link := NewSerialLink("/dev/ttyUSB0", 115200, openerFor(port))
	sink := &frameSink{}
	link.Subscribe(sink.add)

	require.NoError(t, link.Connect())
	assert.True(t, link.IsConnected())
	require.NoError(t, link.Connect(), "connecting twice is a no-op")

	_, err := port.device.Write([]byte{3, protocol.MsgBatteryResponse})
	require.NoError(t, err)
	_, err = port.device.Write([]byte{0x10, 0x0F, 1, protocol.MsgPingResponse})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sink.get()) == 2 }, time.Second, 5*time.Millisecond)
	frames := sink.get()
	assert.Equal(t, []byte{3, protocol.MsgBatteryResponse, 0x10, 0x0F}, frames[0])
	assert.Equal(t, []byte{1, protocol.MsgPingResponse}, frames[1])

	require.NoError(t, link.Disconnect())
	assert.False(t, link.IsConnected())
}

func TestSerialLink_WriteRaw(t *testing.T) {
	port := newFakePort()
	link := NewSerialLink("/dev/ttyUSB0", 115200, openerFor(port))

	assert.False(t, link.WriteRaw(protocol.EncodePing()), "closed link refuses writes")

	require.NoError(t, link.Connect())
	defer link.Disconnect()

	require.True(t, link.WriteRaw(protocol.EncodePing()))
	require.True(t, link.WriteRaw(protocol.EncodeSDKMode(true)))
	assert.Equal(t, append(protocol.EncodePing(), protocol.EncodeSDKMode(true)...), port.bytesWritten())
}

func TestSerialLink_DeviceGone(t *testing.T) {
	original := Logf
	SetLogger(nil)
	defer func() { Logf = original }()

	port := newFakePort()
	link := NewSerialLink("/dev/ttyUSB0", 115200, openerFor(port))
	states := make(chan bool, 1)
	link.OnStateChange(func(c bool) { states <- c })
	require.NoError(t, link.Connect())

	require.NoError(t, port.device.Close())

	select {
	case c := <-states:
		assert.False(t, c)
	case <-time.After(time.Second):
		t.Fatal("no state change after the device went away")
	}
	assert.False(t, link.IsConnected())
}

func TestSerialLink_DisconnectIsSilent(t *testing.T) {
	port := newFakePort()
	link := NewSerialLink("/dev/ttyUSB0", 115200, openerFor(port))
	called := false
	link.OnStateChange(func(bool) { called = true })
	require.NoError(t, link.Connect())

	require.NoError(t, link.Disconnect())
	require.NoError(t, link.Disconnect())
	assert.False(t, called, "a requested disconnect is not reported as a link loss")
}

func TestSerialLink_OpenError(t *testing.T) {
	link := NewSerialLink("/dev/missing", 115200, func(string, int) (Port, error) {
		return nil, errors.New("no such device")
	})

	err := link.Connect()
	require.Error(t, err)
	assert.False(t, link.IsConnected())
}

package vehicle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Port is the minimal interface needed for a serial port. It lets tests run
// without hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the serial device at path.
type PortOpener func(path string, baudRate int) (Port, error)

// OpenSerialPort opens a real port, 8N1 at baudRate.
func OpenSerialPort(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	return port, nil
}

// SerialLink talks to a vehicle through a serial BLE dongle that passes frames
// through verbatim. The reader reassembles frames from the byte stream using
// the length byte.
type SerialLink struct {
	path     string
	baudRate int
	open     PortOpener

	mu      sync.RWMutex
	port    Port
	onValue func([]byte)
	onState func(bool)

	writeMu sync.Mutex
	closing bool
	readers sync.WaitGroup
}

var (
	_ Link         = (*SerialLink)(nil)
	_ StateWatcher = (*SerialLink)(nil)
)

// NewSerialLink creates a link for the device at path. A nil opener uses
// OpenSerialPort.
func NewSerialLink(path string, baudRate int, opener PortOpener) *SerialLink {
	if opener == nil {
		opener = OpenSerialPort
	}
	return &SerialLink{path: path, baudRate: baudRate, open: opener}
}

// Connect opens the port and starts the reader goroutine.
func (s *SerialLink) Connect() error {
	s.mu.Lock()
	if s.port != nil {
		s.mu.Unlock()
		return nil
	}
	port, err := s.open(s.path, s.baudRate)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.port = port
	s.closing = false
	s.mu.Unlock()

	s.readers.Add(1)
	go s.monitor(port)
	return nil
}

// Disconnect closes the port and waits for the reader to exit.
func (s *SerialLink) Disconnect() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.closing = true
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	s.readers.Wait()
	if err != nil {
		return fmt.Errorf("closing serial port %s: %w", s.path, err)
	}
	return nil
}

func (s *SerialLink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port != nil
}

// WriteRaw writes one frame. Writes are serialized so frames never interleave.
func (s *SerialLink) WriteRaw(frame []byte) bool {
	s.mu.RLock()
	port := s.port
	s.mu.RUnlock()
	if port == nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := port.Write(frame)
	if err != nil {
		Logf("[SERIAL] Write to %s failed: %v", s.path, err)
		return false
	}
	return n == len(frame)
}

func (s *SerialLink) Subscribe(onValueChanged func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onValue = onValueChanged
}

func (s *SerialLink) OnStateChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// monitor reads the port until it fails or is closed and emits every
// complete frame.
func (s *SerialLink) monitor(port Port) {
	defer s.readers.Done()

	var splitter frameSplitter
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			for _, frame := range splitter.feed(buf[:n]) {
				s.emit(frame)
			}
		}
		if err != nil {
			s.readerStopped(port, err)
			return
		}
	}
}

func (s *SerialLink) emit(frame []byte) {
	s.mu.RLock()
	fn := s.onValue
	s.mu.RUnlock()
	if fn != nil {
		fn(frame)
	}
}

func (s *SerialLink) readerStopped(port Port, err error) {
	s.mu.Lock()
	closing := s.closing
	if s.port == port {
		s.port = nil
	}
	fn := s.onState
	s.mu.Unlock()

	if closing {
		return
	}
	if !errors.Is(err, io.EOF) {
		Logf("[SERIAL] Read from %s failed: %v", s.path, err)
	} else {
		Logf("[SERIAL] %s closed by device", s.path)
	}
	_ = port.Close()
	if fn != nil {
		fn(false)
	}
}

// frameSplitter reassembles [length, id, payload...] frames from a byte
// stream. A zero length byte cannot start a frame and is skipped.
type frameSplitter struct {
	pending []byte
}

func (f *frameSplitter) feed(data []byte) [][]byte {
	f.pending = append(f.pending, data...)

	var frames [][]byte
	for len(f.pending) > 0 {
		size := int(f.pending[0]) + 1
		if size < 2 {
			f.pending = f.pending[1:]
			continue
		}
		if len(f.pending) < size {
			break
		}
		frame := make([]byte, size)
		copy(frame, f.pending[:size])
		frames = append(frames, frame)
		f.pending = f.pending[size:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

package modem

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

const bufferSize = 128

// Transport is the byte-level link to the modem. Only the listener's worker
// goroutine may use it.
type Transport interface {
	Write(b []byte) (int, error)
	// Read collects bytes until timeout elapses or the line goes quiet
	// after some data has arrived.
	Read(timeout time.Duration) ([]byte, error)
	// Flush discards unread input.
	Flush() error
	Close() error
}

// Opener opens a Transport. Open is the production implementation.
type Opener func(port string, baud int, readTimeout time.Duration) (Transport, error)

type serialTransport struct {
	port *serial.Port
}

// Open opens the serial port. readTimeout is the per-chunk serial read
// timeout, not the overall read window.
func Open(port string, baud int, readTimeout time.Duration) (Transport, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, &ConnectionError{Port: port, Err: err}
	}
	return &serialTransport{port: p}, nil
}

func (t *serialTransport) Write(b []byte) (int, error) {
	return t.port.Write(b)
}

func (t *serialTransport) Read(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, bufferSize)
	var out []byte

	// At least one chunk is read even when timeout is zero.
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		} else if err != nil && !errors.Is(err, io.EOF) {
			// tarm/serial reports a chunk timeout as io.EOF on posix and
			// as (0, nil) on windows.
			return out, err
		} else if len(out) > 0 {
			return out, nil
		}
		if !time.Now().Before(deadline) {
			return out, nil
		}
	}
}

func (t *serialTransport) Flush() error {
	return t.port.Flush()
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}

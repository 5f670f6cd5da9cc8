package modem

import "fmt"

// ConnectionError is returned when the serial device cannot be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open modem on %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError wraps an I/O failure on an open serial link. The worker
// loop treats it as unrecoverable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modem %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed, truncated or error-status response.
type ProtocolError struct {
	Command  string
	Response string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s (response %q)", e.Command, e.Reason, e.Response)
}

// SendFailure means the send transaction never observed a success token.
type SendFailure struct {
	Phone    string
	Response string
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s not confirmed (response %q)", e.Phone, e.Response)
}

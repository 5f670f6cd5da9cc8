package modem

import (
	"log"
	"strings"
	"time"
)

// Client speaks the AT dialect over a Transport. It is not safe for
// concurrent use.
type Client struct {
	t       Transport
	timings Timings
	sleep   func(time.Duration)
	now     func() time.Time
}

// NewClient wraps t. Waits come from timings.
func NewClient(t Transport, timings Timings) *Client {
	return &Client{
		t:       t,
		timings: timings,
		sleep:   sleep,
		now:     time.Now,
	}
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.t.Close()
}

func (c *Client) write(op string, b []byte) error {
	if _, err := c.t.Write(b); err != nil {
		return &TransportError{Op: "write " + op, Err: err}
	}
	return nil
}

func (c *Client) read(op string, window time.Duration) (string, error) {
	b, err := c.t.Read(window)
	if err != nil {
		return string(b), &TransportError{Op: "read " + op, Err: err}
	}
	return string(b), nil
}

// exchange writes one command, waits settle and reads the reply.
func (c *Client) exchange(cmd string, settle time.Duration) (string, error) {
	if err := c.write(cmd, Line(cmd)); err != nil {
		return "", err
	}
	c.sleep(settle)
	return c.read(cmd, c.timings.ReadWindow)
}

// Settle waits for the modem to come up after the port was opened.
func (c *Client) Settle() {
	c.sleep(c.timings.SettleAfterOpen)
}

// Setup selects text mode and new-message indications. A rejected command
// is returned as a *ProtocolError.
func (c *Client) Setup() error {
	for _, cmd := range []string{CmdTextMode, CmdNotifyMode} {
		resp, err := c.exchange(cmd, c.timings.SetupDelay)
		if err != nil {
			return err
		}
		if err := Decode(cmd, resp); err != nil {
			return err
		}
	}
	log.Printf("[modem] text mode configured")
	return nil
}

// ListUnread returns the messages still marked unread. Per-entry parse
// errors are returned alongside the messages that did parse.
func (c *Client) ListUnread() ([]InboundMessage, []error, error) {
	return c.list(CmdListUnread)
}

// ListAll returns every stored message regardless of status.
func (c *Client) ListAll() ([]InboundMessage, []error, error) {
	return c.list(CmdListAll)
}

func (c *Client) list(cmd string) ([]InboundMessage, []error, error) {
	resp, err := c.exchange(cmd, c.timings.ListDelay)
	if err != nil {
		return nil, nil, err
	}
	if !strings.Contains(resp, tagList) {
		if err := Decode(cmd, resp); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	if tok, ok := errorToken(resp); ok {
		// Header lines were printed before the modem gave up; keep what parsed.
		log.Printf("[modem] %s ended with %s", cmd, tok)
	}
	msgs, errs := ParseList(resp, c.now())
	return msgs, errs, nil
}

// Delete removes the message stored in slot.
func (c *Client) Delete(slot int) error {
	cmd := CmdDelete(slot)
	resp, err := c.exchange(cmd, c.timings.DeleteDelay)
	if err != nil {
		return err
	}
	return Decode(cmd, resp)
}

// DeleteRead removes every message the modem has marked read. Unread
// messages are untouched.
func (c *Client) DeleteRead() error {
	resp, err := c.exchange(CmdDeleteRead, c.timings.DeleteReadDelay)
	if err != nil {
		return err
	}
	return Decode(CmdDeleteRead, resp)
}

// Send runs one send transaction. A missing confirmation is a *SendFailure;
// I/O errors are *TransportError.
func (c *Client) Send(phone, body string) error {
	if err := c.t.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}

	resp, err := c.exchange(CmdTextMode, c.timings.SendStepDelay)
	if err != nil {
		return err
	}
	if err := Decode(CmdTextMode, resp); err != nil {
		return &SendFailure{Phone: phone, Response: resp}
	}
	// Only the submit's own reply may confirm it.
	if err := c.t.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}

	addr := CmdSend(phone)
	if err := c.write(addr, Line(addr)); err != nil {
		return err
	}
	c.sleep(c.timings.SendStepDelay)

	if err := c.write("body", Line(body)); err != nil {
		return err
	}
	c.sleep(c.timings.SendBodyDelay)

	if err := c.write("ctrl-z", []byte(ctrlZ)); err != nil {
		return err
	}
	c.sleep(c.timings.SendResponseWait)

	resp, err = c.read(addr, c.timings.ReadWindow)
	if err != nil {
		return err
	}
	if !submitConfirmed(resp) {
		return &SendFailure{Phone: phone, Response: resp}
	}
	return nil
}

// submitConfirmed reports whether resp, read after the terminator, holds a
// +CMGS reference or an OK following the body prompt, and no error token.
func submitConfirmed(resp string) bool {
	if _, bad := errorToken(resp); bad {
		return false
	}
	if strings.Contains(resp, tagSend) {
		return true
	}
	if i := strings.LastIndex(resp, ">"); i >= 0 {
		return hasOK(resp[i+1:])
	}
	return hasOK(resp)
}

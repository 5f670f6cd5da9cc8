// Package modemtest provides an in-memory modem that answers the AT
// commands the listener issues, backed by a simulated SIM message store.
package modemtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"thermal-status-backend/internal/modem"
)

// Slot is one stored SMS.
type Slot struct {
	Index  int
	Sender string
	Body   string
	Read   bool
}

// Sent is a message accepted through AT+CMGS.
type Sent struct {
	Phone string
	Body  string
}

// Modem implements modem.Transport.
type Modem struct {
	mu sync.Mutex

	slots    map[int]*Slot
	nextSlot int
	scripted map[string]string

	in      strings.Builder
	out     strings.Builder
	sendTo  string
	inBody  bool
	msgRef  int
	opens   int
	closed  bool
	cmds    []string
	sent    []Sent
	openErr error
	readErr error
	mute    bool
}

// New returns an empty modem.
func New() *Modem {
	return &Modem{
		slots:    make(map[int]*Slot),
		nextSlot: 1,
		scripted: make(map[string]string),
	}
}

// Opener returns a modem.Opener that hands out m and counts calls.
func (m *Modem) Opener() modem.Opener {
	return func(port string, baud int, readTimeout time.Duration) (modem.Transport, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.opens++
		if m.openErr != nil {
			return nil, &modem.ConnectionError{Port: port, Err: m.openErr}
		}
		m.closed = false
		return m, nil
	}
}

// Deliver stores an unread message and returns its slot index.
func (m *Modem) Deliver(sender, body string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.nextSlot
	m.nextSlot++
	m.slots[idx] = &Slot{Index: idx, Sender: sender, Body: body}
	return idx
}

// MarkRead flips a stored message to read.
func (m *Modem) MarkRead(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[idx]; ok {
		s.Read = true
	}
}

// Script makes cmd answer with resp verbatim instead of the simulated reply.
func (m *Modem) Script(cmd, resp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[cmd] = resp
}

// FailOpen makes the next opens fail with err; nil clears it.
func (m *Modem) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// FailReads makes every Read return err; nil clears it.
func (m *Modem) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// MuteSubmits makes the modem prompt for message bodies but never answer
// the terminator, as if the network never accepted them.
func (m *Modem) MuteSubmits(mute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mute = mute
}

// Slots returns a copy of the stored messages ordered by index.
func (m *Modem) Slots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, 0, len(m.slots))
	for _, idx := range m.sortedIndexes() {
		out = append(out, *m.slots[idx])
	}
	return out
}

// HasSlot reports whether idx is still stored.
func (m *Modem) HasSlot(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[idx]
	return ok
}

// Commands returns every command line received, in order.
func (m *Modem) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cmds...)
}

// CountCommand returns how many times cmd was received.
func (m *Modem) CountCommand(cmd string) int {
	n := 0
	for _, c := range m.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// SentMessages returns the messages accepted for sending.
func (m *Modem) SentMessages() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Opens returns how many times the Opener was called.
func (m *Modem) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Closed reports whether the transport was closed.
func (m *Modem) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Modem) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("write on closed port")
	}
	m.in.Write(b)
	m.process()
	return len(b), nil
}

func (m *Modem) Read(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := m.out.String()
	m.out.Reset()
	return []byte(out), nil
}

func (m *Modem) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out.Reset()
	return nil
}

func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Modem) process() {
	for {
		buf := m.in.String()
		if m.inBody {
			i := strings.IndexByte(buf, 0x1A)
			if i < 0 {
				return
			}
			m.in.Reset()
			m.in.WriteString(buf[i+1:])
			m.inBody = false
			if m.mute {
				continue
			}
			m.msgRef++
			m.sent = append(m.sent, Sent{Phone: m.sendTo, Body: strings.TrimRight(buf[:i], "\r\n")})
			m.out.WriteString(fmt.Sprintf("\r\n+CMGS: %d\r\n\r\nOK\r\n", m.msgRef))
			continue
		}
		// A stray Ctrl-Z outside a message body is ignored.
		buf = strings.ReplaceAll(buf, "\x1a", "")
		i := strings.Index(buf, "\r\n")
		if i < 0 {
			m.in.Reset()
			m.in.WriteString(buf)
			return
		}
		m.in.Reset()
		m.in.WriteString(buf[i+2:])
		m.handle(buf[:i])
	}
}

func (m *Modem) handle(cmd string) {
	m.cmds = append(m.cmds, cmd)
	if resp, ok := m.scripted[cmd]; ok {
		m.out.WriteString(resp)
		return
	}

	switch {
	case cmd == modem.CmdTextMode, cmd == modem.CmdNotifyMode:
		m.ok()
	case cmd == modem.CmdListUnread:
		m.list(func(s *Slot) bool { return !s.Read }, false)
	case cmd == `AT+CMGL="REC UNREAD"`:
		m.list(func(s *Slot) bool { return !s.Read }, true)
	case cmd == modem.CmdListAll:
		m.list(func(*Slot) bool { return true }, false)
	case cmd == `AT+CMGL="ALL"`:
		m.list(func(*Slot) bool { return true }, true)
	case cmd == modem.CmdDeleteRead:
		for idx, s := range m.slots {
			if s.Read {
				delete(m.slots, idx)
			}
		}
		m.ok()
	case strings.HasPrefix(cmd, "AT+CMGD="):
		idx, err := strconv.Atoi(strings.TrimPrefix(cmd, "AT+CMGD="))
		if err != nil {
			m.out.WriteString("\r\nERROR\r\n")
			return
		}
		delete(m.slots, idx)
		m.ok()
	case strings.HasPrefix(cmd, "AT+CMGS="):
		phone, _ := modem.ExtractPhone(cmd)
		m.sendTo = phone
		m.inBody = true
		m.out.WriteString("\r\n> ")
	default:
		m.out.WriteString("\r\nERROR\r\n")
	}
}

func (m *Modem) ok() {
	m.out.WriteString("\r\nOK\r\n")
}

func (m *Modem) list(match func(*Slot) bool, markRead bool) {
	for _, idx := range m.sortedIndexes() {
		s := m.slots[idx]
		if !match(s) {
			continue
		}
		stat := "REC UNREAD"
		if s.Read {
			stat = "REC READ"
		}
		m.out.WriteString(fmt.Sprintf("\r\n+CMGL: %d,\"%s\",\"%s\",\"\",\"24/01/15,10:30:00+12\"\r\n%s", idx, stat, s.Sender, s.Body))
		if markRead {
			s.Read = true
		}
	}
	m.ok()
}

func (m *Modem) sortedIndexes() []int {
	idx := make([]int, 0, len(m.slots))
	for i := range m.slots {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

package modem

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var phoneRe = regexp.MustCompile(`"(\+?\d+)"`)

// InboundMessage is one stored SMS as reported by a list command.
type InboundMessage struct {
	SlotIndex  int
	SenderInfo string
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// ExtractPhone returns the first quoted phone-number token in envelope.
func ExtractPhone(envelope string) (string, bool) {
	m := phoneRe.FindStringSubmatch(envelope)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseList parses a +CMGL response. A malformed header drops only its own
// entry and adds one error to the returned slice.
func ParseList(resp string, at time.Time) ([]InboundMessage, []error) {
	var (
		msgs []InboundMessage
		errs []error
	)

	lines := strings.Split(strings.ReplaceAll(resp, "\r", ""), "\n")
	for i := 0; i < len(lines); i++ {
		header := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(header, tagList) {
			continue
		}

		body := ""
		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if !strings.HasPrefix(next, tagList) && next != "OK" {
				body = next
				i++
			}
		}

		msg, err := parseHeader(header)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msg.Body = body
		msg.ReceivedAt = at
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// parseHeader reads `+CMGL: <index>,"<stat>","<sender>",...`.
func parseHeader(header string) (InboundMessage, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(header, tagList))
	fields := strings.SplitN(rest, ",", 2)
	idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || idx < 0 {
		return InboundMessage{}, &ProtocolError{Command: CmdListUnread, Response: header, Reason: "bad slot index"}
	}
	if len(fields) < 2 {
		return InboundMessage{}, &ProtocolError{Command: CmdListUnread, Response: header, Reason: "missing sender"}
	}
	phone, ok := ExtractPhone(fields[1])
	if !ok {
		return InboundMessage{}, &ProtocolError{Command: CmdListUnread, Response: header, Reason: "missing sender"}
	}
	return InboundMessage{SlotIndex: idx, SenderInfo: header, Sender: phone}, nil
}

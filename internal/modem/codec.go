package modem

import (
	"fmt"
	"strings"
)

const (
	eol   = "\r\n"
	ctrlZ = "\x1A"

	CmdTextMode   = "AT+CMGF=1"
	CmdNotifyMode = "AT+CNMI=2,1,0,0,0"
	CmdDeleteRead = `AT+CMGDA="DEL READ"`

	// Mode 1 lists without flipping REC UNREAD to REC READ, so a message
	// only leaves the unread set once it has been deleted by slot.
	CmdListUnread = `AT+CMGL="REC UNREAD",1`
	CmdListAll    = `AT+CMGL="ALL",1`

	tagList = "+CMGL:"
	tagSend = "+CMGS"
)

// CmdDelete builds the delete-by-slot command.
func CmdDelete(slot int) string {
	return fmt.Sprintf("AT+CMGD=%d", slot)
}

// CmdSend builds the send-address command.
func CmdSend(phone string) string {
	return fmt.Sprintf(`AT+CMGS="%s"`, phone)
}

// Line terminates a command for the wire.
func Line(cmd string) []byte {
	return []byte(cmd + eol)
}

// errorToken returns the first line that reports a modem error.
func errorToken(resp string) (string, bool) {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR") {
			return line, true
		}
	}
	return "", false
}

func hasOK(resp string) bool {
	for _, line := range strings.Split(resp, "\n") {
		if strings.TrimSpace(line) == "OK" {
			return true
		}
	}
	return false
}

// Decode checks the response envelope of command. It succeeds when the
// response holds an OK line or any of the expected tags, and no error token.
func Decode(command, resp string, tags ...string) error {
	if tok, ok := errorToken(resp); ok {
		return &ProtocolError{Command: command, Response: resp, Reason: "modem reported " + tok}
	}
	if hasOK(resp) {
		return nil
	}
	for _, tag := range tags {
		if strings.Contains(resp, tag) {
			return nil
		}
	}
	if strings.TrimSpace(resp) == "" {
		return &ProtocolError{Command: command, Response: resp, Reason: "no response"}
	}
	return &ProtocolError{Command: command, Response: resp, Reason: "unexpected response"}
}

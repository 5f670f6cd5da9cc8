package listener

import (
	"context"
	"errors"
	"log"
	"strings"

	"thermal-status-backend/internal/modem"
	"thermal-status-backend/internal/parse"
	"thermal-status-backend/internal/store"
)

// skipOnProtocol logs a protocol error and swallows it. Transport errors
// pass through and end the loop.
func skipOnProtocol(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *modem.ProtocolError
	if errors.As(err, &perr) {
		log.Printf("[listener] %s skipped: %v", op, err)
		return nil
	}
	return err
}

// processInbound reads unread messages and applies those from known
// devices. A slot is deleted only once its message has been attributed.
func (s *Service) processInbound(ctx context.Context, c *modem.Client) error {
	msgs, parseErrs, err := c.ListUnread()
	if err != nil {
		return skipOnProtocol("list unread", err)
	}
	for _, perr := range parseErrs {
		log.Printf("[listener] discarding malformed list entry: %v", perr)
	}

	for _, m := range msgs {
		if err := s.handleMessage(ctx, c, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleMessage(ctx context.Context, c *modem.Client, m modem.InboundMessage) error {
	device, err := s.registry.FindDeviceByPhone(ctx, m.Sender)
	if errors.Is(err, store.ErrDeviceNotFound) {
		log.Printf("[listener] SMS in slot %d from unknown sender %s left on modem", m.SlotIndex, m.Sender)
		return nil
	}
	if err != nil {
		log.Printf("[listener] registry lookup for %s failed, retrying next tick: %v", m.Sender, err)
		return nil
	}

	report, err := parse.ParseReport(m.Body)
	var aerr *parse.AttributionError
	switch {
	case errors.Is(err, parse.ErrUnrecognized):
		log.Printf("[listener] unrecognized SMS from %s: %q", device.Name, m.Body)
		return s.deleteSlot(c, m.SlotIndex)
	case errors.As(err, &aerr):
		log.Printf("[listener] device %s: %v", device.Name, err)
	}

	previous := device.Status
	report.Apply(device, s.now())
	if err := s.registry.Save(ctx, device); err != nil {
		log.Printf("[listener] failed to save device %s, keeping slot %d: %v", device.Name, m.SlotIndex, err)
		return nil
	}
	log.Printf("[listener] device %s updated by %s report", device, report.Kind)

	if s.publisher != nil {
		s.publisher.PublishDevice(device)
	}
	if s.alerter != nil && device.Status.Overheat() && device.Status != previous {
		s.alerter.Dispatch(device.ID)
	}

	return s.deleteSlot(c, m.SlotIndex)
}

func (s *Service) deleteSlot(c *modem.Client, slot int) error {
	return skipOnProtocol("delete slot", c.Delete(slot))
}

// cleanupIfDue purges read messages once per cleanup interval. Before the
// purge it counts what is still stored so messages from unknown senders,
// which are never deleted, show up in the log.
func (s *Service) cleanupIfDue(c *modem.Client) error {
	now := s.now()
	if now.Sub(s.lastCleanup) < s.cfg.Listener.CleanupInterval {
		return nil
	}
	s.lastCleanup = now

	stored, _, err := c.ListAll()
	if err := skipOnProtocol("storage census", err); err != nil {
		return err
	}
	if err == nil {
		unread := 0
		for _, m := range stored {
			if strings.Contains(m.SenderInfo, "REC UNREAD") {
				unread++
			}
		}
		log.Printf("[listener] modem holds %d messages, %d unread", len(stored), unread)
	}

	log.Println("[listener] deleting read messages")
	return skipOnProtocol("delete read", c.DeleteRead())
}

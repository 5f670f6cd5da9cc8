package listener

import (
	"errors"
	"log"
	"time"

	"thermal-status-backend/internal/modem"
	"thermal-status-backend/internal/parse"
)

// Send normalizes phone and queues message for the worker. It never blocks
// on the modem.
func (s *Service) Send(phone, message string) {
	normalized := parse.NormalizePhone(phone, s.cfg.Modem.CountryCode, s.cfg.Modem.TrunkPrefix)
	s.queue.Push(OutboundItem{Phone: normalized, Body: message, EnqueuedAt: s.now()})
	log.Printf("[listener] queued SMS to %s (%d pending)", normalized, s.queue.Len())
}

// drainOne sends at most one queued item. The item is removed whether or
// not the modem confirmed it; only a transport error is returned.
func (s *Service) drainOne(c *modem.Client) error {
	item, ok := s.queue.Peek()
	if !ok {
		return nil
	}

	err := c.Send(item.Phone, item.Body)
	s.queue.Pop()

	var terr *modem.TransportError
	if errors.As(err, &terr) {
		return err
	}
	if err != nil {
		log.Printf("[listener] dropping SMS to %s after %s in queue: %v", item.Phone, time.Since(item.EnqueuedAt).Round(time.Second), err)
		return nil
	}
	log.Printf("[listener] SMS sent to %s", item.Phone)
	return nil
}

package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"thermal-status-backend/config"
	"thermal-status-backend/internal/model"
	"thermal-status-backend/internal/modem"
	"thermal-status-backend/internal/store"
)

// Publisher receives every device the listener saved.
type Publisher interface {
	PublishDevice(d *model.Device)
}

// Alerter is told when a device enters an overheat state.
type Alerter interface {
	Dispatch(deviceID int64)
}

// Service owns the modem. A single background goroutine does all modem
// I/O; Send and RefreshAllDevices only touch the queue.
type Service struct {
	cfg      *config.Config
	registry store.Registry
	queue    *Queue
	open     modem.Opener
	timings  modem.Timings
	now      func() time.Time

	publisher Publisher
	alerter   Alerter

	// done is non-nil exactly while a worker goroutine is alive; only
	// exited clears it, after the transport has been closed.
	mu       sync.Mutex
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}

	// Owned by the worker goroutine.
	lastCleanup time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithOpener replaces the serial port opener.
func WithOpener(open modem.Opener) Option {
	return func(s *Service) { s.open = open }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets the sink for saved devices.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAlerter sets the overheat alert sink.
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

// NewService creates a stopped listener.
func NewService(cfg *config.Config, registry store.Registry, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		registry: registry,
		queue:    &Queue{},
		open:     modem.Open,
		timings:  modem.TimingsFromConfig(cfg.Modem.Timings),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrStillStopping is returned by Start when a previous worker has been told
// to stop but still holds the modem after the join timeout.
var ErrStillStopping = errors.New("previous listener worker is still stopping")

// Start opens the modem and launches the worker. It is a no-op when the
// listener is already running. If an earlier worker is still winding down,
// Start waits up to the join timeout for it and returns ErrStillStopping
// without touching the port when it does not exit in time. A port that
// cannot be opened is returned as a *modem.ConnectionError and no worker is
// started.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil && s.stopping {
		done := s.done
		s.mu.Unlock()
		exitedInTime := s.waitExit(done)
		s.mu.Lock()
		if !exitedInTime && s.done == done {
			return ErrStillStopping
		}
	}
	if s.done != nil {
		log.Println("[listener] already running")
		return nil
	}

	t, err := s.open(s.cfg.Modem.Port, s.cfg.Modem.Baud, s.cfg.Modem.ReadTimeout)
	if err != nil {
		var cerr *modem.ConnectionError
		if !errors.As(err, &cerr) {
			err = &modem.ConnectionError{Port: s.cfg.Modem.Port, Err: err}
		}
		return err
	}
	log.Printf("[listener] connected to %s at %d baud", s.cfg.Modem.Port, s.cfg.Modem.Baud)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopping = false
	s.cancel = cancel
	s.done = done

	go s.run(ctx, modem.NewClient(t, s.timings), done)
	return nil
}

// Stop asks the worker to finish and waits up to the join timeout. It
// returns even if the worker has not exited; an in-flight send is not
// interrupted, and Running keeps reporting true until the worker is gone.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.cancel()
	done := s.done
	s.mu.Unlock()

	if s.waitExit(done) {
		log.Println("[listener] stopped")
	} else {
		log.Printf("[listener] worker did not exit within %s", s.cfg.Listener.JoinTimeout)
	}
}

func (s *Service) waitExit(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(s.cfg.Listener.JoinTimeout):
		return false
	}
}

// Running reports whether a worker goroutine is alive, including one that
// was asked to stop and has not exited yet.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// QueueLength returns the number of SMS waiting to be sent.
func (s *Service) QueueLength() int {
	return s.queue.Len()
}

// RefreshAllDevices stamps every device's request time and queues a poll
// SMS to it. Devices without a phone number are skipped. It returns the
// number of polls queued.
func (s *Service) RefreshAllDevices(ctx context.Context) (int, error) {
	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices for refresh: %w", err)
	}

	queued := 0
	for i := range devices {
		d := &devices[i]
		if d.Phone() == "" {
			log.Printf("[listener] device %s has no phone number, not polled", d.Name)
			continue
		}
		d.RequestDatetime = s.now()
		if err := s.registry.Save(ctx, d); err != nil {
			log.Printf("[listener] failed to stamp request time on %s: %v", d.Name, err)
		}
		s.Send(d.Phone(), s.cfg.Listener.PollPayload)
		queued++
	}
	log.Printf("[listener] queued polls for %d of %d devices", queued, len(devices))
	return queued, nil
}

func (s *Service) run(ctx context.Context, c *modem.Client, done chan struct{}) {
	defer close(done)
	defer s.exited(done)
	defer c.Close()

	c.Settle()
	if err := skipOnProtocol("modem setup", c.Setup()); err != nil {
		log.Printf("[listener] modem setup failed: %v", err)
		return
	}

	s.lastCleanup = s.now()
	log.Println("[listener] worker started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[listener] worker shutting down")
			return
		case <-timer.C:
			if err := s.tick(ctx, c); err != nil {
				log.Printf("[listener] serial link lost, worker exiting: %v", err)
				return
			}
			timer.Reset(s.cfg.Listener.TickInterval)
		}
	}
}

// tick runs one worker iteration: one send, one inbound poll, and the
// periodic cleanup when due.
func (s *Service) tick(ctx context.Context, c *modem.Client) error {
	if err := s.drainOne(c); err != nil {
		return err
	}
	if err := s.processInbound(ctx, c); err != nil {
		return err
	}
	return s.cleanupIfDue(c)
}

// exited marks the service stopped. It runs after the transport is closed
// and before done is closed.
func (s *Service) exited(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.cancel()
		s.stopping = false
		s.cancel = nil
		s.done = nil
	}
}

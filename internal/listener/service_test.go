package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermal-status-backend/config"
	"thermal-status-backend/internal/model"
	"thermal-status-backend/internal/modem"
	"thermal-status-backend/internal/modem/modemtest"
	"thermal-status-backend/internal/store"
)

// memRegistry is an in-memory store.Registry.
type memRegistry struct {
	mu      sync.Mutex
	devices []*model.Device
	saves   []model.Device
	SaveErr error
}

func (r *memRegistry) add(id int64, name, phone string) *model.Device {
	d := &model.Device{ID: id, Name: name}
	if phone != "" {
		d.PhoneNumber = &phone
	}
	r.devices = append(r.devices, d)
	return d
}

func (r *memRegistry) FindDeviceByPhone(ctx context.Context, phone string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.Phone() == phone {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrDeviceNotFound
}

func (r *memRegistry) Save(ctx context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.saves = append(r.saves, *d)
	for i, existing := range r.devices {
		if existing.ID == d.ID {
			cp := *d
			r.devices[i] = &cp
		}
	}
	return nil
}

func (r *memRegistry) ListDevices(ctx context.Context) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (r *memRegistry) saved() []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Device(nil), r.saves...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	published []model.Device
	alerts    []int64
}

func (r *recorder) PublishDevice(d *model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, *d)
}

func (r *recorder) Dispatch(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, id)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Modem.Timings = config.TimingsConfig{}
	cfg.Listener.TickInterval = 5 * time.Millisecond
	cfg.Listener.JoinTimeout = time.Second
	return cfg
}

type harness struct {
	svc      *Service
	fake     *modemtest.Modem
	client   *modem.Client
	registry *memRegistry
	clock    *fakeClock
	rec      *recorder
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		fake:     modemtest.New(),
		registry: &memRegistry{},
		clock:    &fakeClock{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		rec:      &recorder{},
	}
	h.svc = NewService(testConfig(), h.registry,
		WithOpener(h.fake.Opener()),
		WithClock(h.clock.Now),
		WithPublisher(h.rec),
		WithAlerter(h.rec),
	)
	tr, err := h.fake.Opener()("fake", 9600, 0)
	require.NoError(t, err)
	h.client = modem.NewClient(tr, modem.Timings{})
	h.svc.lastCleanup = h.clock.Now()
	return h
}

func (h *harness) tick(t *testing.T) {
	require.NoError(t, h.svc.tick(context.Background(), h.client))
}

func TestTick_DrainsOneSendPerTick(t *testing.T) {
	h := newHarness(t)
	h.svc.Send("89001111111", "first")
	h.svc.Send("89002222222", "second")
	h.svc.Send("89003333333", "third")

	for i, want := range []string{"first", "second", "third"} {
		h.tick(t)
		sent := h.fake.SentMessages()
		require.Len(t, sent, i+1)
		assert.Equal(t, want, sent[i].Body)
		assert.Equal(t, 2-i, h.svc.QueueLength())
	}
	assert.Equal(t, "+79001111111", h.fake.SentMessages()[0].Phone)

	h.tick(t)
	assert.Len(t, h.fake.SentMessages(), 3, "empty queue is a no-op")
}

func TestTick_SendFailureStillPops(t *testing.T) {
	h := newHarness(t)
	h.fake.Script(modem.CmdSend("+79001111111"), "\r\n+CMS ERROR: 38\r\n")
	h.svc.Send("+79001111111", "lost")
	h.svc.Send("+79002222222", "kept")

	h.tick(t)
	assert.Equal(t, 1, h.svc.QueueLength())
	assert.Empty(t, h.fake.SentMessages())

	h.tick(t)
	sent := h.fake.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "kept", sent[0].Body)
	assert.Equal(t, 0, h.svc.QueueLength())
}

func TestTick_AppliesReportAndDeletesSlot(t *testing.T) {
	h := newHarness(t)
	h.registry.add(1, "boiler-1", "+79001234567")
	slot := h.fake.Deliver("+79001234567", "STATUS IS ALL T1: 23.5 T2: -100")

	h.tick(t)

	saves := h.registry.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, model.StatusOK, saves[0].Status)
	assert.Equal(t, 23.5, *saves[0].Temperature1)
	assert.Equal(t, -100.0, *saves[0].Temperature2)
	assert.Equal(t, h.clock.Now(), saves[0].UpdateDatetime)
	assert.False(t, h.fake.HasSlot(slot))
	assert.Len(t, h.rec.published, 1)
	assert.Empty(t, h.rec.alerts)
}

func TestTick_UnknownSenderLeftUntouched(t *testing.T) {
	h := newHarness(t)
	known := h.registry.add(1, "boiler-1", "+79001234567")
	slot := h.fake.Deliver("+79009999999", "equipment is power on")

	h.tick(t)
	h.tick(t)

	assert.True(t, h.fake.HasSlot(slot))
	assert.Empty(t, h.registry.saved())
	assert.Equal(t, model.StatusPoweredOff, known.Status)
	assert.Zero(t, h.fake.CountCommand(modem.CmdDelete(slot)))
	assert.Equal(t, 2, h.fake.CountCommand(modem.CmdListUnread), "reprocessed every tick")
}

func TestTick_MalformedEntryIsolated(t *testing.T) {
	h := newHarness(t)
	h.registry.add(1, "boiler-1", "+79001234567")
	h.fake.Script(modem.CmdListUnread,
		"\r\n+CMGL: 1,\"REC UNREAD\",\"+79001234567\",\"\",\"24/01/15,10:30:00+12\"\r\n"+
			"equipment is power on\r\n"+
			"+CMGL: ?,\"REC UNREAD\",\"+79001234567\"\r\n"+
			"equipment is power off\r\n"+
			"\r\nOK\r\n")

	h.tick(t)

	saves := h.registry.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, model.StatusPoweredOn, saves[0].Status)
	assert.Equal(t, 1, h.fake.CountCommand("AT+CMGD=1"))
	for _, cmd := range h.fake.Commands() {
		assert.NotContains(t, cmd, "AT+CMGD=?")
	}
}

func TestTick_UnrecognizedBodyFromKnownDeviceIsDeleted(t *testing.T) {
	h := newHarness(t)
	h.registry.add(1, "boiler-1", "+79001234567")
	slot := h.fake.Deliver("+79001234567", "hello there")

	h.tick(t)

	assert.Empty(t, h.registry.saved())
	assert.False(t, h.fake.HasSlot(slot))
}

func TestTick_SaveFailureKeepsSlot(t *testing.T) {
	h := newHarness(t)
	h.registry.add(1, "boiler-1", "+79001234567")
	h.registry.SaveErr = errors.New("db down")
	slot := h.fake.Deliver("+79001234567", "equipment is power on")

	h.tick(t)
	assert.True(t, h.fake.HasSlot(slot))

	h.registry.SaveErr = nil
	h.tick(t)
	assert.False(t, h.fake.HasSlot(slot))
	assert.Len(t, h.registry.saved(), 1)
}

func TestTick_OverheatAlertsOnTransition(t *testing.T) {
	h := newHarness(t)
	h.registry.add(9, "boiler-9", "+79001234567")
	h.fake.Deliver("+79001234567", "1st temp 30.2C")

	h.tick(t)
	require.Equal(t, []int64{9}, h.rec.alerts)
	saves := h.registry.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, 30.2, *saves[0].Temperature1)
	assert.Nil(t, saves[0].Temperature2)

	h.fake.Deliver("+79001234567", "1st temp 31C")
	h.tick(t)
	assert.Equal(t, []int64{9}, h.rec.alerts, "repeat alarm in the same state does not alert again")

	h.fake.Deliver("+79001234567", "2nd temp 40C")
	h.tick(t)
	assert.Equal(t, []int64{9, 9}, h.rec.alerts)
}

func TestTick_AttributionErrorStillApplied(t *testing.T) {
	h := newHarness(t)
	d := h.registry.add(1, "boiler-1", "+79001234567")
	t2 := 12.0
	d.Temperature2 = &t2
	slot := h.fake.Deliver("+79001234567", "2nd temp unknown")

	h.tick(t)

	saves := h.registry.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, model.StatusSensor2Overheat, saves[0].Status)
	assert.Equal(t, 12.0, *saves[0].Temperature2)
	assert.False(t, h.fake.HasSlot(slot))
}

func TestCleanup_AtMostOncePerInterval(t *testing.T) {
	h := newHarness(t)
	unread := h.fake.Deliver("+79009999999", "from a stranger")
	read := h.fake.Deliver("+79009999999", "already read")
	h.fake.MarkRead(read)

	h.clock.Advance(time.Minute)
	h.tick(t)
	assert.Zero(t, h.fake.CountCommand(modem.CmdDeleteRead))

	h.clock.Advance(30 * time.Minute)
	h.tick(t)
	assert.Equal(t, 1, h.fake.CountCommand(modem.CmdDeleteRead))
	assert.Equal(t, 1, h.fake.CountCommand(modem.CmdListAll))

	h.clock.Advance(time.Minute)
	h.tick(t)
	h.tick(t)
	assert.Equal(t, 1, h.fake.CountCommand(modem.CmdDeleteRead))

	h.clock.Advance(30 * time.Minute)
	h.tick(t)
	assert.Equal(t, 2, h.fake.CountCommand(modem.CmdDeleteRead))

	assert.True(t, h.fake.HasSlot(unread), "unread messages are never purged")
	assert.False(t, h.fake.HasSlot(read))
	for _, cmd := range h.fake.Commands() {
		assert.NotContains(t, cmd, "AT+CMGD=", "cleanup only uses DEL READ")
	}
}

func TestRefreshAllDevices(t *testing.T) {
	h := newHarness(t)
	h.registry.add(1, "a", "89001111111")
	h.registry.add(2, "b", "+7 900 222-22-22")
	h.registry.add(3, "no-phone", "")

	n, err := h.svc.RefreshAllDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.svc.QueueLength())

	saves := h.registry.saved()
	require.Len(t, saves, 2)
	for _, d := range saves {
		assert.Equal(t, h.clock.Now(), d.RequestDatetime)
	}

	h.tick(t)
	h.tick(t)
	assert.Equal(t, []modemtest.Sent{
		{Phone: "+79001111111", Body: "SN0000OFF"},
		{Phone: "+79002222222", Body: "SN0000OFF"},
	}, h.fake.SentMessages())
}

func TestService_StartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	opensBefore := h.fake.Opens()

	require.NoError(t, h.svc.Start())
	require.NoError(t, h.svc.Start())
	assert.True(t, h.svc.Running())
	assert.Equal(t, opensBefore+1, h.fake.Opens())

	h.svc.Send("+79001234567", "via worker")
	assert.Eventually(t, func() bool { return len(h.fake.SentMessages()) == 1 }, time.Second, 5*time.Millisecond)

	h.svc.Stop()
	assert.False(t, h.svc.Running())
	assert.Eventually(t, h.fake.Closed, time.Second, 5*time.Millisecond)
	h.svc.Stop()
}

func TestService_StartConnectionError(t *testing.T) {
	h := newHarness(t)
	h.fake.FailOpen(errors.New("no such device"))

	err := h.svc.Start()
	var cerr *modem.ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "/dev/ttyUSB0", cerr.Port)
	assert.False(t, h.svc.Running())
}

func TestService_TransportErrorStopsLoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start())

	h.fake.FailReads(errors.New("device unplugged"))
	assert.Eventually(t, func() bool { return !h.svc.Running() }, time.Second, 5*time.Millisecond)

	h.fake.FailReads(nil)
	require.NoError(t, h.svc.Start(), "a stopped service can be restarted")
	assert.True(t, h.svc.Running())
	h.svc.Stop()
}

// slowLink wraps the fake modem with a per-write delay and counts open
// transport handles.
type slowLink struct {
	*modemtest.Modem
	delay   atomic.Int64
	live    atomic.Int32
	maxLive atomic.Int32
}

func (l *slowLink) opener() modem.Opener {
	open := l.Modem.Opener()
	return func(port string, baud int, readTimeout time.Duration) (modem.Transport, error) {
		if _, err := open(port, baud, readTimeout); err != nil {
			return nil, err
		}
		n := l.live.Add(1)
		for {
			peak := l.maxLive.Load()
			if n <= peak || l.maxLive.CompareAndSwap(peak, n) {
				break
			}
		}
		return &slowHandle{link: l}, nil
	}
}

type slowHandle struct {
	link   *slowLink
	closed atomic.Bool
}

func (h *slowHandle) Write(b []byte) (int, error) {
	time.Sleep(time.Duration(h.link.delay.Load()))
	return h.link.Modem.Write(b)
}

func (h *slowHandle) Read(timeout time.Duration) ([]byte, error) {
	return h.link.Modem.Read(timeout)
}

func (h *slowHandle) Flush() error { return h.link.Modem.Flush() }

func (h *slowHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.link.live.Add(-1)
	}
	return nil
}

func TestService_StopTimeoutKeepsSingleTransport(t *testing.T) {
	link := &slowLink{Modem: modemtest.New()}
	link.delay.Store(int64(200 * time.Millisecond))

	cfg := testConfig()
	cfg.Listener.JoinTimeout = 20 * time.Millisecond
	svc := NewService(cfg, &memRegistry{}, WithOpener(link.opener()))

	require.NoError(t, svc.Start())
	require.Eventually(t, func() bool { return link.CountCommand(modem.CmdTextMode) > 0 }, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.True(t, svc.Running(), "worker is still inside a write")
	assert.Equal(t, int32(1), link.live.Load())

	err := svc.Start()
	assert.ErrorIs(t, err, ErrStillStopping)
	assert.Equal(t, 1, link.Opens())
	assert.Equal(t, int32(1), link.maxLive.Load())

	require.Eventually(t, func() bool { return !svc.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, link.live.Load())

	link.delay.Store(0)
	require.NoError(t, svc.Start())
	assert.True(t, svc.Running())
	assert.Equal(t, int32(1), link.maxLive.Load(), "at most one transport handle at any time")

	cfg.Listener.JoinTimeout = time.Second
	svc.Stop()
	assert.False(t, svc.Running())
	assert.Zero(t, link.live.Load())
}

func TestService_StartWaitsForStoppingWorker(t *testing.T) {
	link := &slowLink{Modem: modemtest.New()}
	link.delay.Store(int64(50 * time.Millisecond))

	cfg := testConfig()
	cfg.Listener.JoinTimeout = 10 * time.Millisecond
	svc := NewService(cfg, &memRegistry{}, WithOpener(link.opener()))

	require.NoError(t, svc.Start())
	require.Eventually(t, func() bool { return link.CountCommand(modem.CmdTextMode) > 0 }, time.Second, 5*time.Millisecond)
	svc.Stop()

	cfg.Listener.JoinTimeout = time.Second
	require.NoError(t, svc.Start(), "start waits out the old worker")
	assert.Equal(t, 2, link.Opens())
	assert.Equal(t, int32(1), link.maxLive.Load())

	link.delay.Store(0)
	svc.Stop()
	assert.False(t, svc.Running())
}

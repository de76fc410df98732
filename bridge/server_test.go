package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/bridge"
	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/fake"
	"github.com/momentics/lwm2mux/internal/capture"
	"github.com/momentics/lwm2mux/internal/concurrency"
	"github.com/momentics/lwm2mux/internal/registry"
	"github.com/momentics/lwm2mux/internal/testutil"
)

func newServer(t *testing.T, eng api.Engine, opts ...bridge.Option) *bridge.Server {
	t.Helper()
	opts = append([]bridge.Option{bridge.WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := bridge.New(eng, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func decode(t *testing.T, b []byte) *fake.Message {
	t.Helper()
	m, err := fake.ParseMessage(b)
	require.NoError(t, err)
	return m
}

func TestSingleInstanceCallback(t *testing.T) {
	eng := fake.NewEngine(bridge.Hooks())
	s := newServer(t, eng)

	rec := fake.NewRecorder("test_callback")
	require.NoError(t, s.SetMonitoringHandler(rec))
	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("test-client", 0x1234)))

	// the callback is queued, not run, until the owner waits
	assert.Empty(t, rec.Calls())
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.HandleCallback())
	assert.Equal(t, []uint16{1}, rec.Calls())
	assert.Equal(t, "monitor called on test_callback for client 1", rec.Result())

	resp := decode(t, bridge.LastSent())
	assert.Equal(t, api.StatusCreated, resp.Code)
	assert.Equal(t, fake.Acknowledgement, resp.Type)
	assert.Equal(t, uint16(0x1234), resp.MessageID)
	assert.Equal(t, []string{"rd", "1"}, resp.OptionValues(fake.OptionLocationPath))

	clients := eng.Clients(s.Handle())
	require.Len(t, clients, 1)
	assert.Equal(t, "test-client", clients[0].Endpoint)
}

func TestNotificationCarriesStatus(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	require.NoError(t, s.SetMonitoringHandler(nil))

	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := s.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.Notification{ClientID: 1, Status: int(api.StatusCreated)}, n)

	require.NoError(t, s.HandlePacket(fake.UpdateRequest(1, 2)))
	n, err = s.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(api.StatusChanged), n.Status)

	require.NoError(t, s.HandlePacket(fake.DeregistrationRequest(1, 3)))
	n, err = s.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(api.StatusDeleted), n.Status)
}

func TestConcurrentInstancesNoCrossDelivery(t *testing.T) {
	const instances = 8
	const rounds = 20

	eng := fake.NewEngine(bridge.Hooks())
	servers := make([]*bridge.Server, instances)
	recs := make([]*fake.Recorder, instances)
	for i := range servers {
		servers[i] = newServer(t, eng, bridge.WithUserData(uint16(100*(i+1))))
		recs[i] = fake.NewRecorder(fmt.Sprintf("instance-%d", i))
		require.NoError(t, servers[i].SetMonitoringHandler(recs[i]))
	}

	var wg conc.WaitGroup
	for i := range servers {
		s := servers[i]
		wg.Go(func() {
			err := concurrency.RunLocked(func() error {
				for r := 0; r < rounds; r++ {
					if err := s.HandlePacket(fake.RegistrationRequest(fmt.Sprintf("ep-%d", r), uint16(r))); err != nil {
						return err
					}
					if err := s.HandleCallback(); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	for i, rec := range recs {
		calls := rec.Calls()
		require.Len(t, calls, rounds)
		base := uint16(100 * (i + 1))
		for r, id := range calls {
			assert.Equal(t, base+uint16(r), id, "instance %d round %d", i, r)
		}
		assert.Equal(t, rounds, servers[i].PendingOutbound())
		assert.Zero(t, servers[i].Pending())
	}
}

func TestSharedHandler(t *testing.T) {
	eng := fake.NewEngine(bridge.Hooks())
	var total atomic.Int64
	h := api.MonitoringHandlerFunc(func(uint16) { total.Add(1) })

	a := newServer(t, eng)
	b := newServer(t, eng)
	require.NoError(t, a.SetMonitoringHandler(h))
	require.NoError(t, b.SetMonitoringHandler(h))

	require.NoError(t, a.HandlePacket(fake.RegistrationRequest("a", 1)))
	require.NoError(t, b.HandlePacket(fake.RegistrationRequest("b", 1)))
	require.NoError(t, a.HandleCallback())
	require.NoError(t, b.HandleCallback())
	assert.EqualValues(t, 2, total.Load())
}

func TestHandlerOverwrite(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	first := fake.NewRecorder("first")
	second := fake.NewRecorder("second")

	require.NoError(t, s.SetMonitoringHandler(first))
	require.NoError(t, s.SetMonitoringHandler(second))
	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))
	require.NoError(t, s.HandleCallback())

	assert.Empty(t, first.Calls())
	assert.Equal(t, []uint16{1}, second.Calls())
}

func TestWaitWithoutHandlerConsumes(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	require.NoError(t, s.SetMonitoringHandler(nil))
	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))

	require.NoError(t, s.HandleCallback())
	assert.Zero(t, s.Pending())
}

func TestHandleCallbackTimeout(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithWaitTimeout(20*time.Millisecond))
	require.NoError(t, s.SetMonitoringHandler(fake.NewRecorder("idle")))

	start := time.Now()
	err := s.HandleCallback()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrNoNotification)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, api.ErrCodeTimeout, api.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestUnarmedEngineNeverNotifies(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithWaitTimeout(10*time.Millisecond))
	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))
	assert.Zero(t, s.Pending())
	assert.ErrorIs(t, s.HandleCallback(), api.ErrNoNotification)
}

func TestCloseWakesBlockedWaiter(t *testing.T) {
	eng := fake.NewEngine(bridge.Hooks())
	s := newServer(t, eng)
	require.NoError(t, s.SetMonitoringHandler(fake.NewRecorder("blocked")))

	errc := make(chan error, 1)
	go func() { errc <- s.HandleCallbackBlocking() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, api.ErrServerClosed)
		assert.Equal(t, api.ErrCodeClosed, api.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestCloseTearsDown(t *testing.T) {
	rec := testutil.NewMetricsRecorder(t)
	eng := fake.NewEngine(bridge.Hooks())
	s, err := bridge.New(eng, bridge.WithMetrics(rec.Metrics))
	require.NoError(t, err)
	id := s.Identity()

	_, ok := registry.Default().Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, 1, eng.Live())
	assert.EqualValues(t, 1, rec.Sum(t, "lwm2mux_instances_active"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok = registry.Default().Lookup(id)
	assert.False(t, ok)
	assert.Zero(t, eng.Live())
	assert.EqualValues(t, 0, rec.Sum(t, "lwm2mux_instances_active"))
	assert.ErrorIs(t, s.HandlePacket([]byte{0x40}), api.ErrServerClosed)
	assert.ErrorIs(t, s.SetMonitoringHandler(nil), api.ErrServerClosed)
	_, err = s.WaitForNotification(context.Background())
	assert.ErrorIs(t, err, api.ErrServerClosed)
}

func TestOrphanNotificationIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var bogus byte
	h := api.Handle(unsafe.Pointer(&bogus))
	assert.NotPanics(t, func() {
		bridge.MonitoringTrampoline(h, 7, nil, int(api.StatusCreated), nil, 0, nil, nil)
	})

	entries := logs.FilterMessage("notification for unregistered instance").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 7, entries[0].ContextMap()["client_id"])
}

func TestLateCallbackAfterCloseIsOrphan(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	s, err := bridge.New(fake.NewEngine(bridge.Hooks()))
	require.NoError(t, err)
	h := s.Handle()
	require.NoError(t, s.Close())

	bridge.MonitoringTrampoline(h, 1, nil, 0, nil, 0, nil, nil)
	assert.Equal(t, 1, logs.FilterMessage("notification for unregistered instance").Len())
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	rec := testutil.NewMetricsRecorder(t)
	eng := fake.NewEngine(bridge.Hooks())
	bad := newServer(t, eng, bridge.WithMetrics(rec.Metrics))
	good := newServer(t, eng)

	require.NoError(t, bad.SetMonitoringHandler(api.MonitoringHandlerFunc(func(uint16) { panic("boom") })))
	goodRec := fake.NewRecorder("good")
	require.NoError(t, good.SetMonitoringHandler(goodRec))

	require.NoError(t, bad.HandlePacket(fake.RegistrationRequest("ep", 1)))
	n, err := bad.WaitForNotification(context.Background())
	assert.ErrorIs(t, err, api.ErrHandlerPanic)
	assert.Equal(t, api.ErrCodeHandler, api.CodeOf(err))
	assert.EqualValues(t, 1, n.ClientID)
	assert.EqualValues(t, 1, rec.Sum(t, "lwm2mux_handler_panics_total"))

	// registry and the other instance keep working
	require.NoError(t, good.HandlePacket(fake.RegistrationRequest("ep", 1)))
	require.NoError(t, good.HandleCallback())
	assert.Equal(t, []uint16{1}, goodRec.Calls())

	require.NoError(t, bad.HandlePacket(fake.UpdateRequest(1, 2)))
	_, err = bad.WaitForNotification(context.Background())
	assert.ErrorIs(t, err, api.ErrHandlerPanic)
}

func TestInitFailures(t *testing.T) {
	cause := errors.New("out of memory")

	_, err := bridge.New(fake.NewEngine(bridge.Hooks(), fake.WithInitError(cause)))
	assert.ErrorIs(t, err, api.ErrEngineInit)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, api.ErrCodeEngine, api.CodeOf(err))

	_, err = bridge.New(fake.NewEngine(bridge.Hooks(), fake.WithNilHandle()))
	assert.ErrorIs(t, err, api.ErrEngineInit)

	_, err = bridge.New(nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = bridge.New(fake.NewEngine(bridge.Hooks()), bridge.WithOutboxLimit(0))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestEmptyPacketRejected(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	err := s.HandlePacket(nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
}

func TestMailboxLimitDropsExcess(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithMailboxLimit(2))
	require.NoError(t, s.SetMonitoringHandler(nil))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.HandlePacket(fake.RegistrationRequest(fmt.Sprintf("ep-%d", i), uint16(i))))
	}
	assert.Equal(t, 2, s.Pending())
}

func TestTwoIndependentInstances(t *testing.T) {
	eng := fake.NewEngine(bridge.Hooks())
	a := newServer(t, eng)
	b := newServer(t, eng)
	assert.NotEqual(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.ID(), b.ID())

	packet := fake.RegistrationRequest("same-endpoint", 42)
	require.NoError(t, a.HandlePacket(append([]byte(nil), packet...)))
	require.NoError(t, b.HandlePacket(append([]byte(nil), packet...)))

	for _, s := range []*bridge.Server{a, b} {
		out, ok := s.NextOutbound()
		require.True(t, ok)
		resp := decode(t, out)
		assert.Equal(t, api.StatusCreated, resp.Code)
		assert.Equal(t, []string{"rd", "1"}, resp.OptionValues(fake.OptionLocationPath))
		_, ok = s.NextOutbound()
		assert.False(t, ok)
	}
	assert.Len(t, eng.Clients(a.Handle()), 1)
	assert.Len(t, eng.Clients(b.Handle()), 1)
}

func TestMetricsCountIngestAndDelivery(t *testing.T) {
	rec := testutil.NewMetricsRecorder(t)
	s := newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithMetrics(rec.Metrics))
	require.NoError(t, s.SetMonitoringHandler(fake.NewRecorder("m")))

	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))
	require.NoError(t, s.HandlePacket(fake.UpdateRequest(1, 2)))
	require.NoError(t, s.HandleCallback())

	assert.EqualValues(t, 2, rec.Sum(t, "lwm2mux_packets_ingested_total"))
	assert.EqualValues(t, 1, rec.Sum(t, "lwm2mux_notifications_delivered_total"))
}

func TestWithConfig(t *testing.T) {
	cfg := control.Default()
	cfg.Bridge.WaitTimeout = 5 * time.Millisecond
	s := newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithConfig(cfg), bridge.WithConfig(nil))
	assert.ErrorIs(t, s.HandleCallback(), api.ErrNoNotification)
}

func TestProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	bridge.RegisterProbes(dp)
	s.RegisterProbes(dp)

	state := dp.DumpState()
	assert.GreaterOrEqual(t, state["bridge.instances"], 1)
	assert.Equal(t, s.Identity().String(), state["server."+s.ID()+".identity"])
	assert.Equal(t, false, state["server."+s.ID()+".closed"])
	assert.LessOrEqual(t, state["bridge.capture.last_size"], capture.MaxPacketSize)

	s.UnregisterProbes(dp)
	assert.NotContains(t, dp.Names(), "server."+s.ID()+".pending")
}

func TestSetHandlerAfterCloseKeepsHandler(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))
	before := fake.NewRecorder("before")
	after := fake.NewRecorder("after")
	require.NoError(t, s.SetMonitoringHandler(before))
	require.NoError(t, s.HandlePacket(fake.RegistrationRequest("ep", 1)))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SetMonitoringHandler(after), api.ErrServerClosed)

	// queued before Close, so it is still drained to the stored handler
	_, err := s.WaitForNotification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, before.Calls())
	assert.Empty(t, after.Calls())
}

func TestCallbackFromForeignThreadWakesOwner(t *testing.T) {
	s := newServer(t, fake.NewEngine(bridge.Hooks()))

	var handlerTID atomic.Int64
	require.NoError(t, s.SetMonitoringHandler(api.MonitoringHandlerFunc(func(uint16) {
		handlerTID.Store(int64(concurrency.ThreadID()))
	})))

	type waitResult struct {
		n   api.Notification
		tid int
		err error
	}
	waiting := make(chan struct{})
	res := make(chan waitResult, 1)
	go func() {
		_ = concurrency.RunLocked(func() error {
			tid := concurrency.ThreadID()
			close(waiting)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := s.WaitForNotification(ctx)
			res <- waitResult{n, tid, err}
			return nil
		})
	}()

	<-waiting
	time.Sleep(20 * time.Millisecond)
	var callerTID int
	require.NoError(t, concurrency.RunLocked(func() error {
		callerTID = concurrency.ThreadID()
		bridge.MonitoringTrampoline(s.Handle(), 9, nil, int(api.StatusChanged), nil, 0, nil, nil)
		return nil
	}))

	select {
	case r := <-res:
		require.NoError(t, r.err)
		assert.Equal(t, api.Notification{ClientID: 9, Status: int(api.StatusChanged)}, r.n)
		assert.EqualValues(t, r.tid, handlerTID.Load())
		if runtime.GOOS == "linux" {
			assert.NotEqual(t, callerTID, r.tid)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("owner not woken by foreign callback")
	}
}

func TestConfiguredOrphanLogRate(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()
	t.Cleanup(func() {
		registry.Default().SetOrphanLogRate(control.Default().Bridge.OrphanLogRate)
	})

	cfg := control.Default()
	cfg.Bridge.OrphanLogRate = 1
	newServer(t, fake.NewEngine(bridge.Hooks()), bridge.WithConfig(cfg))

	var bogus byte
	h := api.Handle(unsafe.Pointer(&bogus))
	for i := 0; i < 50; i++ {
		bridge.MonitoringTrampoline(h, uint16(i), nil, 0, nil, 0, nil, nil)
	}
	assert.LessOrEqual(t, logs.FilterMessage("notification for unregistered instance").Len(), 2)
}

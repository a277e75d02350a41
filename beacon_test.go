package beacon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/beaconlabs/beacon/api"
)

// fastPreset keeps batch rest times and upload cadence in the millisecond
// range so pipeline tests run quickly.
func fastPreset() *api.PerformancePreset {
	return &api.PerformancePreset{
		MaxFileAgeForWrite: 20 * time.Millisecond,
		MinFileAgeForRead:  30 * time.Millisecond,
		InitialUploadDelay: 10 * time.Millisecond,
		MinUploadDelay:     5 * time.Millisecond,
		MaxUploadDelay:     100 * time.Millisecond,
	}
}

// recordingClient serves scripted statuses and records each submitted body.
type recordingClient struct {
	mu       sync.Mutex
	statuses []int
	calls    int
	bodies   []string
}

func (c *recordingClient) Send(ctx context.Context, req api.HTTPRequest) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, string(req.Body))
	i := c.calls
	if i >= len(c.statuses) {
		i = len(c.statuses) - 1
	}
	c.calls++
	return c.statuses[i], nil
}

func (c *recordingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *recordingClient) allBodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.bodies))
	copy(out, c.bodies)
	return out
}

// testFeature is a minimal RemoteFeature writing opaque payloads.
type testFeature struct {
	name     string
	receiver api.MessageReceiver
	override *api.PerformancePreset
}

func (f *testFeature) Name() string                            { return f.name }
func (f *testFeature) MessageReceiver() api.MessageReceiver    { return f.receiver }
func (f *testFeature) PerformanceOverride() *api.PerformancePreset { return f.override }
func (f *testFeature) RequestBuilder() api.RequestBuilder {
	return api.RequestBuilderFunc(func(ctx api.Context, events [][]byte) (api.HTTPRequest, error) {
		body := make([]string, 0, len(events))
		for _, e := range events {
			body = append(body, string(e))
		}
		return api.HTTPRequest{
			Method: "POST",
			URL:    "https://intake.example.com/api/v2/" + f.name,
			Body:   []byte(strings.Join(body, "\n")),
		}, nil
	})
}

type coreEnv struct {
	core   *Core
	client *recordingClient
	root   string
}

func newCoreEnv(t *testing.T, mutate func(*Configuration)) *coreEnv {
	t.Helper()
	client := &recordingClient{statuses: []int{202}}
	cfg := Configuration{
		Service:        "test-app",
		Env:            "test",
		ClientToken:    "tok",
		RootDir:        t.TempDir(),
		HTTPClient:     client,
		InitialConsent: api.ConsentGranted,
		Logger:         zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	core, err := New(cfg)
	require.NoError(t, err)
	return &coreEnv{core: core, client: client, root: cfg.RootDir}
}

func (e *coreEnv) grantedFiles(t *testing.T, feature string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.root, feature, "v2", "granted"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func (e *coreEnv) pendingFiles(t *testing.T, feature string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.root, feature, "v2", "pending"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func (e *coreEnv) write(feature string, payloads ...string) {
	for _, p := range payloads {
		p := p
		e.core.Scope(feature).EventWriteContext(api.WriteOptions{}, func(ctx api.Context, w api.EventWriter) {
			_ = w.Write([]byte(p))
		})
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScenario_WriteThreeEventsUploadInOrder(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: fastPreset()}))
	e.write("logs", "a", "b", "c")

	waitFor(t, 5*time.Second, func() bool { return e.client.callCount() >= 1 })
	waitFor(t, 5*time.Second, func() bool { return len(e.grantedFiles(t, "logs")) == 0 })

	bodies := e.allUploaded()
	assert.Equal(t, "a\nb\nc", bodies, "events must upload in write order")
}

// allUploaded joins every uploaded body in submission order.
func (e *coreEnv) allUploaded() string {
	return strings.Join(e.client.allBodies(), "\n")
}

func TestScenario_PendingThenNotGrantedNeverUploads(t *testing.T) {
	e := newCoreEnv(t, func(cfg *Configuration) {
		cfg.InitialConsent = api.ConsentPending
	})
	defer e.core.FlushAndTearDown()

	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: fastPreset()}))
	e.write("logs", "x")

	waitFor(t, time.Second, func() bool { return len(e.pendingFiles(t, "logs")) == 1 })

	e.core.SetTrackingConsent(api.ConsentNotGranted)
	waitFor(t, time.Second, func() bool { return len(e.pendingFiles(t, "logs")) == 0 })

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.grantedFiles(t, "logs"))
	assert.Equal(t, 0, e.client.callCount(), "no upload may be attempted")
}

func TestScenario_PendingThenGrantedUploads(t *testing.T) {
	e := newCoreEnv(t, func(cfg *Configuration) {
		cfg.InitialConsent = api.ConsentPending
	})
	defer e.core.FlushAndTearDown()

	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: fastPreset()}))
	e.write("logs", "y")
	waitFor(t, time.Second, func() bool { return len(e.pendingFiles(t, "logs")) == 1 })

	e.core.SetTrackingConsent(api.ConsentGranted)

	waitFor(t, 5*time.Second, func() bool { return e.client.callCount() >= 1 })
	assert.Contains(t, e.allUploaded(), "y")
	waitFor(t, 5*time.Second, func() bool { return len(e.grantedFiles(t, "logs")) == 0 })
}

func TestScenario_RetryableFailureKeepsBatchThenUploads(t *testing.T) {
	e := newCoreEnv(t, nil)
	e.client.statuses = []int{503, 200}
	defer e.core.FlushAndTearDown()

	// A large change rate pushes the post-failure delay to the 100ms cap, so
	// the retained batch is observable before the retry lands.
	override := fastPreset()
	override.UploadDelayChangeRate = 5.0
	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: override}))
	e.write("logs", "z")

	// First attempt fails retryable: batch must survive.
	waitFor(t, 5*time.Second, func() bool { return e.client.callCount() >= 1 })
	assert.NotEmpty(t, e.grantedFiles(t, "logs"), "batch must be retained after 503")

	// Next tick succeeds and the batch disappears.
	waitFor(t, 5*time.Second, func() bool { return e.client.callCount() >= 2 })
	waitFor(t, 5*time.Second, func() bool { return len(e.grantedFiles(t, "logs")) == 0 })
}

func TestScenario_FlushAndTearDownDrainsInFlightWrites(t *testing.T) {
	e := newCoreEnv(t, nil)

	// Long rest age: without the flush bypass nothing would upload in time.
	override := fastPreset()
	override.MinFileAgeForRead = time.Hour
	override.MaxFileAgeForWrite = time.Hour
	override.InitialUploadDelay = time.Hour
	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: override}))

	e.write("logs", "in-flight-1", "in-flight-2")
	e.core.FlushAndTearDown()

	assert.Empty(t, e.grantedFiles(t, "logs"), "terminal drain must empty granted/")
	uploaded := e.allUploaded()
	assert.Contains(t, uploaded, "in-flight-1")
	assert.Contains(t, uploaded, "in-flight-2")
}

// relayReceiver records messages and lets tests wait on them.
type relayReceiver struct {
	mu  sync.Mutex
	got []api.Message
}

func (r *relayReceiver) Receive(msg api.Message, core api.CoreScope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return true
}

func (r *relayReceiver) messages() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.Message, len(r.got))
	copy(out, r.got)
	return out
}

func TestScenario_BusMessageAndContextOrderingAcrossFeatures(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	recvB := &relayReceiver{}
	override := fastPreset()
	override.InitialUploadDelay = time.Hour
	require.NoError(t, e.core.Register(&testFeature{name: "A", override: override}))
	require.NoError(t, e.core.Register(&testFeature{name: "B", override: override, receiver: recvB}))

	// A message sent from A's side is observed by B's receiver.
	e.core.Send(api.BaggageMessage{Key: "A.notification", Value: 1}, nil)
	waitFor(t, time.Second, func() bool {
		for _, m := range recvB.messages() {
			if bm, ok := m.(api.BaggageMessage); ok && bm.Key == "A.notification" {
				return true
			}
		}
		return false
	})

	// A context update triggered by A is visible to any write B enqueues
	// afterwards: the update commits on the context lane before the read.
	e.core.SetBaggage("A.state", "ready")
	observed := make(chan any, 1)
	e.core.Scope("B").EventWriteContext(api.WriteOptions{}, func(ctx api.Context, w api.EventWriter) {
		observed <- ctx.Baggages["A.state"]
		_ = w.Write([]byte("b-event"))
	})
	assert.Equal(t, "ready", <-observed)
}

func TestRegister_DuplicateNameFails(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: fastPreset()}))
	err := e.core.Register(&testFeature{name: "logs", override: fastPreset()})
	assert.ErrorIs(t, err, ErrFeatureAlreadyRegistered)
}

func TestRegister_AfterTearDownFails(t *testing.T) {
	e := newCoreEnv(t, nil)
	e.core.FlushAndTearDown()
	err := e.core.Register(&testFeature{name: "logs", override: fastPreset()})
	assert.ErrorIs(t, err, ErrCoreTornDown)
}

func TestGetFeature_TypedLookup(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	f := &testFeature{name: "logs", override: fastPreset()}
	require.NoError(t, e.core.Register(f))

	got, ok := GetFeature[*testFeature](e.core, "logs")
	require.True(t, ok)
	assert.Same(t, f, got)

	_, ok = GetFeature[*testFeature](e.core, "missing")
	assert.False(t, ok)
}

func TestScope_UnregisteredFeatureIsNoOp(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	scope := e.core.Scope("ghost")
	require.NotNil(t, scope)
	scope.EventWriteContext(api.WriteOptions{}, func(ctx api.Context, w api.EventWriter) {
		t.Fatal("block must not run for an unregistered feature")
	})
}

func TestEventWriteContext_PanicIsContained(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	override := fastPreset()
	override.InitialUploadDelay = time.Hour
	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: override}))

	e.core.Scope("logs").EventWriteContext(api.WriteOptions{}, func(ctx api.Context, w api.EventWriter) {
		_ = w.Write([]byte("before-panic"))
		panic("feature bug")
	})
	// A later write on the same batch still works.
	e.write("logs", "after-panic")

	waitFor(t, time.Second, func() bool { return len(e.grantedFiles(t, "logs")) >= 1 })
}

func TestSetUserInfo_ReflectedInContext(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	e.core.SetUserInfo(api.UserInfo{ID: "u1", Name: "Sam"})
	e.core.AddUserExtraInfo(map[string]any{"plan": "pro"})

	waitFor(t, time.Second, func() bool {
		ctx := e.core.provider.Current()
		return ctx.User.ID == "u1" && ctx.User.Extra["plan"] == "pro"
	})
}

func TestClearAllData_RemovesEverything(t *testing.T) {
	e := newCoreEnv(t, nil)
	defer e.core.FlushAndTearDown()

	override := fastPreset()
	override.InitialUploadDelay = time.Hour
	require.NoError(t, e.core.Register(&testFeature{name: "logs", override: override}))

	e.write("logs", "a", "b")
	waitFor(t, time.Second, func() bool { return len(e.grantedFiles(t, "logs")) > 0 })

	e.core.ClearAllData()
	waitFor(t, time.Second, func() bool { return len(e.grantedFiles(t, "logs")) == 0 })
}

func TestBypassConsent_WritesToGrantedWhilePending(t *testing.T) {
	e := newCoreEnv(t, func(cfg *Configuration) {
		cfg.InitialConsent = api.ConsentPending
	})
	defer e.core.FlushAndTearDown()

	override := fastPreset()
	override.InitialUploadDelay = time.Hour
	require.NoError(t, e.core.Register(&testFeature{name: "crash", override: override}))

	e.core.Scope("crash").EventWriteContext(api.WriteOptions{BypassConsent: true}, func(ctx api.Context, w api.EventWriter) {
		_ = w.Write([]byte("crash-report"))
	})

	waitFor(t, time.Second, func() bool { return len(e.grantedFiles(t, "crash")) == 1 })
	assert.Empty(t, e.pendingFiles(t, "crash"))
}

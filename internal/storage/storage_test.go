package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/lane"
	"github.com/beaconlabs/beacon/internal/observability"
)

// stepClock is a DateProvider tests can advance manually.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storageEnv struct {
	s       *Storage
	rw      *lane.SerialLane
	clock   *stepClock
	metrics *observability.CapturingRegistry
	root    string
}

func newStorageEnv(t *testing.T, mutate func(*Config)) *storageEnv {
	t.Helper()
	rw := lane.New("rw")
	t.Cleanup(rw.Stop)

	clock := newStepClock()
	metrics := observability.NewCapturingRegistry()
	cfg := Config{
		Feature:      "logs",
		Root:         filepath.Join(t.TempDir(), "logs", "v2"),
		Preset:       api.DefaultPreset(),
		DateProvider: clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, rw, zaptest.NewLogger(t), metrics, nil)
	require.NoError(t, err)
	return &storageEnv{s: s, rw: rw, clock: clock, metrics: metrics, root: cfg.Root}
}

func (e *storageEnv) quiesce() {
	lane.Await(e.s.Barrier())
}

func (e *storageEnv) fileNames(t *testing.T, dir string) []string {
	t.Helper()
	files, err := listFiles(filepath.Join(e.root, dir))
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.name)
	}
	return names
}

func TestWriter_RoundTripPreservesOrder(t *testing.T) {
	e := newStorageEnv(t, nil)

	w := e.s.Writer(api.ConsentGranted, false)
	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, p := range payloads {
		require.NoError(t, w.Write(p))
	}
	e.quiesce()

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	assert.Equal(t, payloads, batch.Events)
}

func TestWriter_CreatesDirectoriesPerConsent(t *testing.T) {
	e := newStorageEnv(t, nil)
	for _, dir := range []string{"granted", "pending", "unauthorized"} {
		info, err := os.Stat(filepath.Join(e.root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriter_PendingGoesToPendingPartition(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentPending, false).Write([]byte("x")))
	e.quiesce()

	assert.Len(t, e.fileNames(t, "pending"), 1)
	assert.Empty(t, e.fileNames(t, "granted"))
}

func TestWriter_NotGrantedDropsSilently(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentNotGranted, false).Write([]byte("x")))
	e.quiesce()

	assert.Empty(t, e.fileNames(t, "granted"))
	assert.Empty(t, e.fileNames(t, "pending"))
	assert.Empty(t, e.fileNames(t, "unauthorized"))
	assert.Equal(t, 1, e.metrics.Count(e.metrics.EventsDropped, "logs|consent"))
}

func TestWriter_OversizeEventDropped(t *testing.T) {
	e := newStorageEnv(t, func(cfg *Config) {
		cfg.Preset.MaxObjectSize = 4
	})

	w := e.s.Writer(api.ConsentGranted, false)
	err := w.Write([]byte("too large"))
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	require.NoError(t, w.Write([]byte("ok")))
	e.quiesce()

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	assert.Equal(t, [][]byte{[]byte("ok")}, batch.Events)
}

func TestWriter_RotatesOnMaxObjects(t *testing.T) {
	e := newStorageEnv(t, func(cfg *Config) {
		cfg.Preset.MaxObjectsInFile = 2
	})

	w := e.s.Writer(api.ConsentGranted, false)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write([]byte{byte('a' + i)}))
	}
	e.quiesce()

	assert.Len(t, e.fileNames(t, "granted"), 3)
}

func TestWriter_ForceNewBatch(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("a")))
	e.quiesce()
	e.clock.Advance(time.Millisecond)
	require.NoError(t, e.s.Writer(api.ConsentGranted, true).Write([]byte("b")))
	e.quiesce()

	assert.Len(t, e.fileNames(t, "granted"), 2)
}

func TestWriter_RotatesOnFileAge(t *testing.T) {
	e := newStorageEnv(t, nil)

	w := e.s.Writer(api.ConsentGranted, false)
	require.NoError(t, w.Write([]byte("a")))
	e.quiesce()
	e.clock.Advance(e.s.cfg.Preset.MaxFileAgeForWrite + time.Second)
	require.NoError(t, w.Write([]byte("b")))
	e.quiesce()

	assert.Len(t, e.fileNames(t, "granted"), 2)
}

func TestReader_RespectsMinFileAge(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("young")))
	e.quiesce()

	assert.Nil(t, e.s.NextBatch(), "young batch must not be upload-eligible")

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	assert.NotNil(t, e.s.NextBatch())
}

func TestReader_IgnoreAgeReadsOpenFile(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("fresh")))
	e.quiesce()

	e.s.SetIgnoreFileAge(true)
	defer e.s.SetIgnoreFileAge(false)
	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	assert.Equal(t, [][]byte{[]byte("fresh")}, batch.Events)
}

func TestReader_DeletesObsoleteBatchesUnread(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("old")))
	e.quiesce()

	e.clock.Advance(e.s.cfg.Preset.MaxFileAgeForRead + time.Hour)
	assert.Nil(t, e.s.NextBatch())
	assert.Empty(t, e.fileNames(t, "granted"))
	assert.Equal(t, 1, e.metrics.Count(e.metrics.BatchesDeleted, "logs|obsolete"))
}

func TestReader_CorruptBatchDeletedWithTelemetry(t *testing.T) {
	var telemetry []api.Telemetry
	var mu sync.Mutex
	e := newStorageEnv(t, nil)
	e.s.telemetry = func(tm api.Telemetry) {
		mu.Lock()
		telemetry = append(telemetry, tm)
		mu.Unlock()
	}

	// A batch whose length prefix points beyond the file.
	path := filepath.Join(e.root, "granted", nameForTime(e.clock.Now()))
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xFF, 0xFF, 0xFF, 'x'}, 0o644))

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	assert.Nil(t, e.s.NextBatch())
	assert.Empty(t, e.fileNames(t, "granted"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, telemetry, 1)
	assert.Equal(t, api.TelemetryError, telemetry[0].Kind)
}

func TestAccept_DeleteRemovesBatch(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("a")))
	e.quiesce()
	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)

	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	e.s.Accept(batch.ID, true, "uploaded")
	e.quiesce()

	assert.Empty(t, e.fileNames(t, "granted"))
	assert.Equal(t, 1, e.metrics.Count(e.metrics.BatchesDeleted, "logs|uploaded"))
}

func TestAccept_KeepRetainsBatch(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("a")))
	e.quiesce()
	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)

	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	e.s.Accept(batch.ID, false, "")
	e.quiesce()

	assert.Len(t, e.fileNames(t, "granted"), 1)
}

func TestMigrate_PendingToGranted(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentPending, false).Write([]byte("y")))
	e.quiesce()

	e.s.MigrateUnauthorized(api.ConsentGranted)
	e.quiesce()

	assert.Empty(t, e.fileNames(t, "pending"))
	require.Len(t, e.fileNames(t, "granted"), 1)

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	assert.Equal(t, [][]byte{[]byte("y")}, batch.Events)
}

func TestMigrate_PendingToNotGrantedDeletes(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentPending, false).Write([]byte("x")))
	e.quiesce()

	e.s.MigrateUnauthorized(api.ConsentNotGranted)
	e.quiesce()

	assert.Empty(t, e.fileNames(t, "pending"))
	assert.Empty(t, e.fileNames(t, "granted"))
}

func TestClearAll_Idempotent(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("a")))
	require.NoError(t, e.s.Writer(api.ConsentPending, false).Write([]byte("b")))
	e.quiesce()

	e.s.ClearAll()
	e.s.ClearAll()
	e.quiesce()

	assert.Empty(t, e.fileNames(t, "granted"))
	assert.Empty(t, e.fileNames(t, "pending"))
}

func TestClearUnauthorized_RemovesPendingOnly(t *testing.T) {
	e := newStorageEnv(t, nil)

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("keep")))
	require.NoError(t, e.s.Writer(api.ConsentPending, false).Write([]byte("drop")))
	e.quiesce()

	e.s.ClearUnauthorized()
	e.quiesce()

	assert.Len(t, e.fileNames(t, "granted"), 1)
	assert.Empty(t, e.fileNames(t, "pending"))
}

func TestSizePurge_EvictsOldestFirst(t *testing.T) {
	e := newStorageEnv(t, func(cfg *Config) {
		cfg.Preset.MaxObjectsInFile = 1
		cfg.Preset.MaxDirectorySize = 40
	})

	w := e.s.Writer(api.ConsentGranted, false)
	for i := 0; i < 6; i++ {
		require.NoError(t, w.Write([]byte("0123456789")))
		e.quiesce()
		e.clock.Advance(time.Millisecond)
	}

	names := e.fileNames(t, "granted")
	assert.Less(t, len(names), 6, "size purge must have evicted oldest batches")

	// Each batch holds 14 bytes; the cap of 40 keeps three, so the three
	// newest (created at +3ms, +4ms, +5ms) survive.
	start := e.clock.Now().Add(-6 * time.Millisecond)
	assert.Equal(t, []string{
		nameForTime(start.Add(3 * time.Millisecond)),
		nameForTime(start.Add(4 * time.Millisecond)),
		nameForTime(start.Add(5 * time.Millisecond)),
	}, names, "the newest batches must survive")
}

type xorCipher struct{}

func (xorCipher) Encrypt(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ 0x5A
	}
	return out, nil
}

func (xorCipher) Decrypt(data []byte) ([]byte, error) {
	return xorCipher{}.Encrypt(data)
}

func TestEncryption_RoundTripThroughDisk(t *testing.T) {
	e := newStorageEnv(t, func(cfg *Config) {
		cfg.Encryption = xorCipher{}
	})

	require.NoError(t, e.s.Writer(api.ConsentGranted, false).Write([]byte("secret")))
	e.quiesce()

	// On-disk bytes differ from the plaintext.
	names := e.fileNames(t, "granted")
	require.Len(t, names, 1)
	raw, err := os.ReadFile(filepath.Join(e.root, "granted", names[0]))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	e.clock.Advance(e.s.cfg.Preset.MinFileAgeForRead)
	batch := e.s.NextBatch()
	require.NotNil(t, batch)
	assert.Equal(t, [][]byte{[]byte("secret")}, batch.Events)
}

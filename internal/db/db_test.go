package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spinsense/internal/spin"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "spin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestPragmasApplied(t *testing.T) {
	database := newTestDB(t)

	var journalMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, database.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, database.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous) // NORMAL

	var tempStore int
	require.NoError(t, database.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // MEMORY
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	database := newTestDB(t)

	latest, err := LatestMigrationVersion(migrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := database.MigrateVersion(migrationsFS())
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	// Reopening an up to date database is a no-op.
	again, err := NewDB(database.path)
	require.NoError(t, err)
	again.Close()
}

func TestMigrateDownAndUp(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.MigrateDown(migrationsFS()))
	version, _, err := database.MigrateVersion(migrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, database.MigrateUp(migrationsFS()))
	version, _, err = database.MigrateVersion(migrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestOpenDB_NoSchema(t *testing.T) {
	database, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	defer database.Close()

	version, dirty, err := database.MigrateVersion(migrationsFS())
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestDetectorConfig_RoundTrip(t *testing.T) {
	database := newTestDB(t)

	got, err := database.GetDetectorConfig()
	require.NoError(t, err)
	assert.Nil(t, got, "fresh database has no profile")

	cfg := DetectorConfigFrom(spin.Config{Threshold: 42, StartDelay: 100 * time.Millisecond, StopDelay: 0}, 64)
	require.NoError(t, database.SaveDetectorConfig(&cfg))
	assert.NotZero(t, cfg.UpdatedAt)

	got, err = database.GetDetectorConfig()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg, *got)
	assert.Equal(t, spin.Config{Threshold: 42, StartDelay: 100 * time.Millisecond}, got.SpinConfig())

	// Saving again replaces the single row.
	cfg.Threshold = 60
	cfg.StatsWindow = 0
	require.NoError(t, database.SaveDetectorConfig(&cfg))
	got, err = database.GetDetectorConfig()
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.Threshold)
	assert.Equal(t, spin.DefaultStatsWindow, got.StatsWindow)

	var rows int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM detector_config").Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, database.DeleteDetectorConfig())
	got, err = database.GetDetectorConfig()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveDetectorConfig_RejectsInvalid(t *testing.T) {
	database := newTestDB(t)

	for _, cfg := range []DetectorConfig{
		{Threshold: -1},
		{Threshold: 50, StartDelayMs: -10},
		{Threshold: 50, StopDelayMs: -1},
		{Threshold: 50, StartDelayMs: spin.MaxDelayMs + 1},
		{Threshold: 50, StopDelayMs: 18446744073710},
		{Threshold: 50, StatsWindow: spin.MaxStatsWindow + 1},
	} {
		err := database.SaveDetectorConfig(&cfg)
		assert.ErrorIs(t, err, spin.ErrInvalidConfig, "%+v", cfg)
	}

	got, err := database.GetDetectorConfig()
	require.NoError(t, err)
	assert.Nil(t, got, "rejected profiles are not stored")
}

func TestDetectorConfig_Validate(t *testing.T) {
	ok := DetectorConfig{Threshold: 50, StartDelayMs: spin.MaxDelayMs, StatsWindow: spin.MaxStatsWindow}
	require.NoError(t, ok.Validate())
	assert.Equal(t, time.Duration(spin.MaxDelayMs)*time.Millisecond, ok.SpinConfig().StartDelay)

	zeroWindow := DetectorConfig{Threshold: 50}
	assert.ErrorIs(t, zeroWindow.Validate(), spin.ErrInvalidConfig)

	huge := DetectorConfig{Threshold: 50, StatsWindow: spin.MaxStatsWindow * 1024}
	assert.ErrorIs(t, huge.Validate(), spin.ErrInvalidConfig)
}

func TestSerialConfig_CRUD(t *testing.T) {
	database := newTestDB(t)

	configs, err := database.GetSerialConfigs()
	require.NoError(t, err)
	assert.Empty(t, configs)

	usb := SerialConfig{Name: "bench", PortPath: "/dev/ttyUSB0", Parity: "none", Enabled: true, SensorModel: "BMI270"}
	require.NoError(t, database.CreateSerialConfig(&usb))
	assert.NotZero(t, usb.ID)
	assert.Equal(t, 115200, usb.BaudRate, "defaults applied on create")
	assert.Equal(t, "N", usb.Parity)

	acm := SerialConfig{Name: "field", PortPath: "/dev/ttyACM0", BaudRate: 921600}
	require.NoError(t, database.CreateSerialConfig(&acm))

	all, err := database.GetSerialConfigs()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bench", all[0].Name)

	enabled, err := database.GetEnabledSerialConfigs()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, usb.ID, enabled[0].ID)

	require.NoError(t, database.SetSerialConfigEnabled(acm.ID, true))
	got, err := database.GetSerialConfig(acm.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)
	assert.Equal(t, 921600, got.PortOptions().BaudRate)

	require.NoError(t, database.DeleteSerialConfig(usb.ID))
	got, err = database.GetSerialConfig(usb.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, database.DeleteSerialConfig(usb.ID))
	assert.Error(t, database.SetSerialConfigEnabled(9999, true))
}

func TestCreateSerialConfig_Validation(t *testing.T) {
	database := newTestDB(t)

	assert.Error(t, database.CreateSerialConfig(&SerialConfig{PortPath: "/dev/ttyUSB0"}))
	assert.Error(t, database.CreateSerialConfig(&SerialConfig{Name: "x"}))
	assert.Error(t, database.CreateSerialConfig(&SerialConfig{Name: "x", PortPath: "/dev/x", BaudRate: 1234}))

	dup := SerialConfig{Name: "same", PortPath: "/dev/a"}
	require.NoError(t, database.CreateSerialConfig(&dup))
	dup2 := SerialConfig{Name: "same", PortPath: "/dev/b"}
	assert.Error(t, database.CreateSerialConfig(&dup2), "names are unique")
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	database := newTestDB(t)
	cfg := DetectorConfigFrom(spin.DefaultConfig(), 32)
	require.NoError(t, database.SaveDetectorConfig(&cfg))

	mux := http.NewServeMux()
	require.NoError(t, database.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".db.gz")

	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "SQLite format 3"), "backup is a sqlite file")
}

func TestAttachAdminRoutes_TailSQLRegistered(t *testing.T) {
	database := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, database.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tailsql/"))
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0 (latest 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Contains(t, out.String(), "Usage: spind migrate")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
}

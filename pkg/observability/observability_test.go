package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aprslink/pkg/config"
	"aprslink/pkg/transport"
)

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aprslink.log")
	c := config.Default().Log
	c.Outputs = []string{path}
	c.Format = "json"
	c.Development = false
	c.Level = "warning"

	log, err := SetupLogger(c)
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())
	log.Info("dropped")
	log.Warn("kept", zap.String("k", "v"))
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "dropped")
	assert.Contains(t, string(b), `"k":"v"`)
}

func TestMetricsHandler(t *testing.T) {
	reg := NewRegistry()
	m := transport.NewMetrics(reg)
	m.Sent(transport.KindAPRSIS)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `aprslink_transport_packets_sent_total{transport="aprsis"} 1`)

	rec = httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestPacketLogger(t *testing.T) {
	base := zap.NewExample()
	assert.Equal(t, zap.NewNop().Core().Enabled(zap.InfoLevel), PacketLogger(base, false).Core().Enabled(zap.InfoLevel))
	assert.True(t, PacketLogger(base, true).Core().Enabled(zap.InfoLevel))
}

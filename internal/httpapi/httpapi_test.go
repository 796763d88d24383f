package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/aggregator/internal/adapter"
	"github.com/luxfi/aggregator/internal/cert"
	"github.com/luxfi/aggregator/internal/claim"
	"github.com/luxfi/aggregator/internal/clock"
	"github.com/luxfi/aggregator/internal/dispatch"
	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engine"
	"github.com/luxfi/aggregator/internal/holdingscache"
	"github.com/luxfi/aggregator/internal/ledger"
	"github.com/luxfi/aggregator/internal/metacache"
	"github.com/luxfi/aggregator/internal/metrics"
	"github.com/luxfi/aggregator/internal/neuron"
	"github.com/luxfi/aggregator/internal/resolver"
	"github.com/luxfi/aggregator/internal/usersettings"
)

type noopProber struct{}

func (noopProber) ProbeMetadata(ctx context.Context, id domain.EndpointID) error { return nil }
func (noopProber) ProbeControllers(ctx context.Context, id domain.EndpointID) ([]string, error) {
	return nil, nil
}

type noopMetaFetcher struct{}

func (noopMetaFetcher) FetchMetadata(ctx context.Context, id domain.EndpointID) (metacache.Metadata, error) {
	return metacache.Metadata{Symbol: "X", Decimals: 0}, nil
}

type noopBalances struct{}

func (noopBalances) BalanceOf(ctx context.Context, id domain.EndpointID, user domain.UserID) (*big.Int, error) {
	return big.NewInt(0), nil
}

type noopNeuronClient struct{}

func (noopNeuronClient) ListNeurons(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mc := clock.NewMock(0)

	res := resolver.New(noopProber{})
	meta := metacache.New(noopMetaFetcher{}, mc)
	ledgerFetcher := ledger.New(res, meta, noopBalances{})
	neuronFetcher := neuron.New(noopNeuronClient{})
	adapters := adapter.NewRegistry(map[adapter.Kind]adapter.Constructor{})
	holdings := holdingscache.New(mc)
	settings := usersettings.NewStore()
	certStore := cert.NewStore()

	eng := engine.New(ledgerFetcher, neuronFetcher, adapters, holdings, settings, certStore)
	claimEng := claim.New(claim.DefaultConfig(), mc, adapters)
	metricsReg := metrics.NewRegistry()

	disp := dispatch.New(eng, claimEng, settings, certStore, metricsReg, nil, nil, dispatch.Prices{}, dispatch.VersionInfo{})
	return New(disp)
}

func TestHoldingsEndpointReturnsJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/holdings/alice", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var holdings []domain.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &holdings))
	require.Empty(t, holdings)
}

func TestHoldingsEndpointRejectsAnonymous(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/holdings/anonymous", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestHoldingsEndpointRejectsMalformedPrincipal(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/holdings/%20", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/summary/alice", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteReturns404WithJSONBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not found", body["error"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "aggregator_query_total")
}

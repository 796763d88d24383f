package graphqlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/99designs/gqlgen/graphql"
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
	return metacache.Metadata{Symbol: "X"}, nil
}

type noopBalances struct{}

func (noopBalances) BalanceOf(ctx context.Context, id domain.EndpointID, user domain.UserID) (*big.Int, error) {
	return big.NewInt(0), nil
}

type noopNeuronClient struct{}

func (noopNeuronClient) ListNeurons(ctx context.Context, user domain.UserID) ([]domain.Holding, error) {
	return nil, nil
}

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
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

	return dispatch.New(eng, claimEng, settings, certStore, metricsReg, nil, nil, dispatch.Prices{}, dispatch.VersionInfo{})
}

func postQuery(t *testing.T, handler http.HandlerFunc, query string, variables map[string]interface{}) graphql.Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp graphql.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHoldingsQueryResolvesWithInlinePrincipal(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ holdings(principal: "alice") }`, nil)

	require.Empty(t, resp.Errors)
	var data map[string][]domain.Holding
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Empty(t, data["holdings"])
}

func TestHoldingsQueryResolvesWithVariablePrincipal(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `query($p: String!) { holdings(principal: $p) }`, map[string]interface{}{"p": "alice"})

	require.Empty(t, resp.Errors)
}

func TestSummaryQueryResolves(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ summary(principal: "alice") }`, nil)

	require.Empty(t, resp.Errors)
	var data map[string][]domain.TokenTotal
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Empty(t, data["summary"])
}

func TestPoolsQueryResolvesWithoutPrincipal(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ pools }`, nil)

	require.Empty(t, resp.Errors)
	var data map[string][]domain.PoolMeta
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Empty(t, data["pools"])
}

func TestMissingPrincipalArgumentYieldsError(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ holdings }`, nil)

	require.NotEmpty(t, resp.Errors)
}

func TestUnknownFieldYieldsError(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ nonsense }`, nil)

	require.NotEmpty(t, resp.Errors)
}

func TestInvalidRequestBodyYieldsError(t *testing.T) {
	handler := Handler(newTestDispatcher(t))

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp graphql.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Errors)
}

func TestAnonymousPrincipalIsRejected(t *testing.T) {
	handler := Handler(newTestDispatcher(t))
	resp := postQuery(t, handler, `{ holdings(principal: "anonymous") }`, nil)

	require.NotEmpty(t, resp.Errors)
}

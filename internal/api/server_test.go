package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/microplan/internal/api"
	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/dashboard"
	"github.com/ajitpratap0/microplan/internal/intake"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/network"
	"github.com/ajitpratap0/microplan/internal/outbox"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/registry"
	"github.com/ajitpratap0/microplan/internal/stock"
	"github.com/ajitpratap0/microplan/internal/store"
	"github.com/ajitpratap0/microplan/internal/uin"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// newServices wires every service over st. gen may be nil.
func newServices(st store.Store, gen recommend.Generator) api.Services {
	cls := classifier.NewClassifier(classifier.Rules{}, logger)
	rec := recommend.NewService(gen, time.Second, logger)
	return api.Services{
		Dashboard: dashboard.New(st, cls, 0, logger),
		Intake:    intake.New(st, cls, rec, logger),
		Registry:  registry.New(st, uin.NewSeeded(3, logger), logger),
		Recommend: rec,
		Stock:     stock.NewLedger(st, 0, logger),
		Network:   network.NewService(network.NewMemoryRepository(), logger),
		Outbox:    outbox.New(st, 0, nil, logger),
	}
}

func serve(t *testing.T, svc api.Services, authToken string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(api.NewServer(svc, logger, authToken).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// newTestServer wires every service over an in-memory store. gen may be nil.
func newTestServer(t *testing.T, authToken string, gen recommend.Generator) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(logger)
	t.Cleanup(func() { _ = st.Close() })
	return serve(t, newServices(st, gen), authToken), st
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func visitBody() map[string]any {
	return map[string]any{
		"peerEducatorId": "pe-1",
		"uin":            "V-M-12345",
		"ward":           "Mbare",
		"visitDate":      "2024-03-01",
		"riskLevel":      "High",
		"commodities":    map[string]any{"maleCondoms": 0},
	}
}

func TestAPI_Healthz(t *testing.T) {
	ts, _ := newTestServer(t, "secret", nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["recommendations"])
}

func TestAPI_Auth(t *testing.T) {
	ts, _ := newTestServer(t, "secret", nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/dashboard", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/dashboard", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/dashboard", nil, "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_OutreachThenDashboard(t *testing.T) {
	ts, st := newTestServer(t, "", nil)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/outreach", visitBody(), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, resp)
	assert.Contains(t, body["flags"], classifier.FlagNoCommodities)
	assert.Equal(t, 1, st.Len(store.CollectionOutreachVisits))

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/dashboard?ward=Mbare&risk=High", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum dashboard.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, 1, sum.Visits.Total)
	assert.Equal(t, 1, sum.Visits.Filtered)
	assert.Equal(t, []string{"Mbare"}, sum.Wards)
}

func TestAPI_Outreach_ValidationFields(t *testing.T) {
	ts, st := newTestServer(t, "", nil)
	body := visitBody()
	body["visitDate"] = "01/03/2024"
	delete(body, "uin")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/outreach", body, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decode(t, resp)
	fields, ok := out["fields"].([]any)
	require.True(t, ok)
	assert.Len(t, fields, 2)
	assert.Contains(t, out["notice"], "Please check")
	assert.Zero(t, st.Len(store.CollectionOutreachVisits))
}

func TestAPI_Outreach_RecommendationFailure(t *testing.T) {
	// Well-formed JSON that misses required fields is a recommendation
	// failure, not a field error.
	gen := recommend.GeneratorFunc(func(context.Context, recommend.Prompt) (string, error) {
		return `{"summary":""}`, nil
	})
	ts, st := newTestServer(t, "", gen)
	body := visitBody()
	body["withRecommendation"] = true

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/outreach", body, "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := decode(t, resp)
	assert.Nil(t, out["fields"])
	assert.Contains(t, out["notice"], "entries were kept")
	assert.Zero(t, st.Len(store.CollectionOutreachVisits))
}

func TestAPI_Hotspot(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/hotspots", map[string]any{
		"hotspotName": "Bus Rank",
		"ward":        "Mbare",
		"typology":    []string{"Street"},
		"populationData": map[string]any{
			"FSW": map[string]int{"a1": 10, "a2": 30, "a3": 20},
		},
		"services": map[string]any{"condoms": false, "lube": true, "clinicDistance": 2, "kpFriendly": true},
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res intake.HotspotResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Contains(t, res.Assessment.ServiceGaps, classifier.FlagCondomGap)
	assert.Equal(t, 60, res.Profile.PopulationData["FSW"].Total)
}

func TestAPI_RegistryAndUIN(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/uin", map[string]string{"gender": "Female", "area": "Mbare"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Regexp(t, `^V-M-\d{5}$`, decode(t, resp)["uin"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/registry", map[string]string{
		"gender": "Male", "area": "epworth", "kpType": "MSM", "ward": "Epworth",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode(t, resp)
	code, _ := rec["uin"].(string)
	assert.Regexp(t, `^M-E-\d{5}$`, code)
	assert.Equal(t, "Unknown", rec["riskLevel"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/registry", map[string]string{
		"uin": code, "kpType": "MSM", "ward": "Epworth",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duplicate UIN")

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/registry/"+code+"/verify", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Verified", decode(t, resp)["verificationStatus"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/registry/V-F-00000/meetings", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/uin", map[string]string{"gender": "Female"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "area is required")
}

func TestAPI_RiskAssessment(t *testing.T) {
	gen := recommend.GeneratorFunc(func(context.Context, recommend.Prompt) (string, error) {
		return `{"summary":"Elevated risk.","rationale":"Three factors."}`, nil
	})
	ts, _ := newTestServer(t, "", gen)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/risk-assessment", map[string]any{
		"identifiedRiskFactors": []string{"a", "b", "c"},
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "High", out["riskLevel"])
	assert.Equal(t, "Elevated risk.", out["summary"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/risk-assessment", map[string]any{
		"identifiedRiskFactors": []string{},
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RiskAssessment_Disabled(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/risk-assessment", map[string]any{
		"identifiedRiskFactors": []string{"a"},
	}, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAPI_Stock(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/stock", map[string]any{"name": "Male condoms", "facility": "Mbare Clinic", "opening": 100}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := decode(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/stock/"+id+"/dispense", map[string]int{"quantity": 85}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.EqualValues(t, 15, out["currentStock"])
	assert.Equal(t, "Low", out["status"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/stock/"+id+"/dispense", map[string]int{"quantity": 16}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "cannot go negative")

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/stock/"+id+"/receive", map[string]int{"quantity": 50}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 65, decode(t, resp)["currentStock"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/stock/missing/receive", map[string]int{"quantity": 1}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/stock", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ := decode(t, resp)["items"].([]any)
	assert.Len(t, items, 1)
}

func TestAPI_BadBody(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL+"/v1/outreach", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DashboardRejectsUnknownRisk(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/dashboard?risk=Extreme", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DebugVars(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/debug/vars", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode(t, resp), "microplan_visits_submitted_total")
}

func TestAPI_Network(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	for _, n := range []map[string]any{
		{"id": "a", "name": "Ana", "type": "Peer"},
		{"id": "b", "name": "Bar 7", "type": "Venue"},
	} {
		resp := doRequest(t, http.MethodPost, ts.URL+"/v1/network/Mbare/nodes", n, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/network/Mbare/bridges",
		map[string]any{"from": "a", "to": "b", "strength": "Strong"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/network/Mbare", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var n network.Network
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
	require.Len(t, n.Nodes, 2)
	require.Len(t, n.Bridges, 1)
	require.NotNil(t, n.Nodes[0].InfluenceScore)
	assert.InDelta(t, 3.0, *n.Nodes[0].InfluenceScore, 0.001)
	assert.Equal(t, "Mbare", n.Nodes[0].Ward)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/network/Mbare/bridges",
		map[string]any{"from": "a", "to": "a", "strength": "Strong"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decode(t, resp)["fields"])
}

func TestAPI_NetworkNotConfigured(t *testing.T) {
	st := store.NewMemoryStore(logger)
	t.Cleanup(func() { _ = st.Close() })
	svc := newServices(st, nil)
	svc.Network = nil
	ts := serve(t, svc, "")

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/network/Mbare", nil, "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAPI_Outbox(t *testing.T) {
	st := store.NewMemoryStore(logger)
	t.Cleanup(func() { _ = st.Close() })
	svc := newServices(st, nil)
	ts := serve(t, svc, "")

	svc.Outbox.Record(&models.StoreError{
		Path:          "stockItems/s1",
		Operation:     store.OpWrite,
		AttemptedData: map[string]any{"name": "Condoms"},
		Cause:         errors.New("offline"),
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/outbox", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries, ok := decode(t, resp)["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/outbox/retry", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode(t, resp)["retried"])
	assert.Equal(t, 1, st.Len(store.CollectionStockItems))
	assert.Zero(t, svc.Outbox.Len())
}

package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/dashboard"
	microplanmcp "github.com/ajitpratap0/microplan/internal/mcp"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/registry"
	"github.com/ajitpratap0/microplan/internal/store"
	"github.com/ajitpratap0/microplan/internal/uin"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newMCPServer(t *testing.T, gen recommend.Generator) (*microplanmcp.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(logger)
	t.Cleanup(func() { _ = st.Close() })
	cls := classifier.NewClassifier(classifier.Rules{}, logger)
	srv := microplanmcp.NewServer(
		dashboard.New(st, cls, 0, logger),
		cls,
		registry.New(st, uin.NewSeeded(5, logger), logger),
		recommend.NewService(gen, time.Second, logger),
		logger,
	)
	return srv, st
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func decodeResult(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, textContent(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	return out
}

func TestMCP_Dashboard(t *testing.T) {
	srv, st := newMCPServer(t, nil)
	doc, err := store.Encode(models.OutreachVisit{UIN: "V-M-12345", Ward: "Mbare", RiskLevel: models.RiskLow, IsRegisteredAtClinic: true})
	require.NoError(t, err)
	st.Write(context.Background(), store.CollectionOutreachVisits, doc)

	res, err := srv.HandleDashboard(context.Background(), makeReq("dashboard", map[string]any{"ward": "Mbare"}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	visits, ok := out["visits"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, visits["total"])
	assert.EqualValues(t, 100, visits["clinicRegistrationRate"])
}

func TestMCP_Dashboard_InvalidRisk(t *testing.T) {
	srv, _ := newMCPServer(t, nil)
	res, err := srv.HandleDashboard(context.Background(), makeReq("dashboard", map[string]any{"risk": "Severe"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCP_ClassifyHotspot(t *testing.T) {
	srv, _ := newMCPServer(t, nil)
	res, err := srv.HandleClassifyHotspot(context.Background(), makeReq("classify_hotspot", map[string]any{
		"condoms":         false,
		"lube":            true,
		"clinic_distance": 7.5,
		"kp_friendly":     true,
		"police":          "Yes",
		"population": map[string]any{
			"FSW": map[string]any{"a1": 60, "a2": 30, "a3": 20},
		},
	}))
	require.NoError(t, err)

	var a classifier.HotspotAssessment
	require.NoError(t, json.Unmarshal([]byte(textContent(t, res)), &a))
	assert.Contains(t, a.ServiceGaps, classifier.FlagCondomGap)
	assert.Contains(t, a.ServiceGaps, classifier.FlagAccessRisk)
	assert.Equal(t, models.RiskHigh, a.Volumes[models.KPFemaleSexWorker])
	assert.Equal(t, 110, a.TotalPopulation)
	assert.Equal(t, models.PriorityCritical, a.Priority)
}

func TestMCP_ClassifyHotspot_BadPopulation(t *testing.T) {
	srv, _ := newMCPServer(t, nil)
	res, err := srv.HandleClassifyHotspot(context.Background(), makeReq("classify_hotspot", map[string]any{
		"population": map[string]any{"FSW": map[string]any{"a1": 1, "a2": 1, "a3": 1, "total": 9}},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCP_GenerateUIN(t *testing.T) {
	srv, st := newMCPServer(t, nil)
	res, err := srv.HandleGenerateUIN(context.Background(), makeReq("generate_uin", map[string]any{"gender": "Female", "area": "harare"}))
	require.NoError(t, err)
	assert.Regexp(t, `^V-H-\d{5}$`, decodeResult(t, res)["uin"])
	assert.Zero(t, st.Len(store.CollectionKPRegistry))

	res, err = srv.HandleGenerateUIN(context.Background(), makeReq("generate_uin", map[string]any{"gender": "Male"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCP_AssessRisk_WithoutGenerator(t *testing.T) {
	srv, _ := newMCPServer(t, nil)
	res, err := srv.HandleAssessRisk(context.Background(), makeReq("assess_risk", map[string]any{
		"factors": []any{"Multiple partners", "Alcohol use"},
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "Medium", out["riskLevel"])
	assert.Nil(t, out["summary"])
}

func TestMCP_AssessRisk_WithGenerator(t *testing.T) {
	gen := recommend.GeneratorFunc(func(context.Context, recommend.Prompt) (string, error) {
		return `{"summary":"High risk.","rationale":"Three factors."}`, nil
	})
	srv, _ := newMCPServer(t, gen)
	res, err := srv.HandleAssessRisk(context.Background(), makeReq("assess_risk", map[string]any{
		"factors": []any{"a", "b", "c"},
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "High", out["riskLevel"])
	assert.Equal(t, "High risk.", out["summary"])
}

func TestMCP_AssessRisk_GeneratorFailureKeepsLevel(t *testing.T) {
	gen := recommend.GeneratorFunc(func(context.Context, recommend.Prompt) (string, error) {
		return "not json", nil
	})
	srv, _ := newMCPServer(t, gen)
	res, err := srv.HandleAssessRisk(context.Background(), makeReq("assess_risk", map[string]any{
		"factors": []any{"a"},
		"level":   "High",
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "High", out["riskLevel"])
	assert.Contains(t, out["warning"], "summary unavailable")
}

func TestMCP_AssessRisk_NoFactors(t *testing.T) {
	srv, _ := newMCPServer(t, nil)
	res, err := srv.HandleAssessRisk(context.Background(), makeReq("assess_risk", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCP_NilDependencies(t *testing.T) {
	srv := microplanmcp.NewServer(nil, nil, nil, nil, logger)
	ctx := context.Background()

	res, err := srv.HandleDashboard(ctx, makeReq("dashboard", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	res, err = srv.HandleClassifyHotspot(ctx, makeReq("classify_hotspot", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	res, err = srv.HandleGenerateUIN(ctx, makeReq("generate_uin", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotNil(t, srv.MCPServer())
}

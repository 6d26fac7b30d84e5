// Package mcp implements the Model Context Protocol server for microplan.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/dashboard"
	"github.com/ajitpratap0/microplan/internal/intake"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/registry"
)

// Server wraps an MCPServer with microplan dependencies.
type Server struct {
	mcp       *mcpserver.MCPServer
	dash      *dashboard.Builder
	cls       *classifier.Classifier
	reg       *registry.Registry
	recommend *recommend.Service
	logger    *slog.Logger
}

// NewServer creates a new MCP server. Nil dependencies make the tools that
// need them return an error result instead of panicking.
func NewServer(dash *dashboard.Builder, cls *classifier.Classifier, reg *registry.Registry, rec *recommend.Service, logger *slog.Logger) *Server {
	s := &Server{dash: dash, cls: cls, reg: reg, recommend: rec, logger: logger}

	mcpSrv := mcpserver.NewMCPServer(
		"microplan",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildDashboardTool(), s.handleDashboard)
	mcpSrv.AddTool(buildClassifyHotspotTool(), s.handleClassifyHotspot)
	mcpSrv.AddTool(buildGenerateUINTool(), s.handleGenerateUIN)
	mcpSrv.AddTool(buildAssessRiskTool(), s.handleAssessRisk)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleDashboard is the exported handler for the "dashboard" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleDashboard(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleDashboard(ctx, req)
}

// HandleClassifyHotspot is the exported handler for the "classify_hotspot" tool.
func (s *Server) HandleClassifyHotspot(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleClassifyHotspot(ctx, req)
}

// HandleGenerateUIN is the exported handler for the "generate_uin" tool.
func (s *Server) HandleGenerateUIN(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGenerateUIN(ctx, req)
}

// HandleAssessRisk is the exported handler for the "assess_risk" tool.
func (s *Server) HandleAssessRisk(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAssessRisk(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// population converts the free-form "population" argument into age bands.
func population(raw any) (map[models.KPType]models.AgeBands, error) {
	if raw == nil {
		return map[models.KPType]models.AgeBands{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var pop map[models.KPType]models.AgeBands
	if err := json.Unmarshal(b, &pop); err != nil {
		return nil, err
	}
	return pop, nil
}

// --- tool definitions ---

func buildDashboardTool() mcpgo.Tool {
	return mcpgo.NewTool("dashboard",
		mcpgo.WithDescription("Summarise outreach visits, hotspots, the KP registry and stock for a ward."),
		mcpgo.WithString("ward",
			mcpgo.Description("Ward to summarise (default: All)"),
		),
		mcpgo.WithString("risk",
			mcpgo.Description("Restrict the filtered visit count to one risk level: Low, Medium, High or Unknown"),
		),
		mcpgo.WithString("typology",
			mcpgo.Description("Restrict the filtered hotspot count to one typology"),
		),
	)
}

func buildClassifyHotspotTool() mcpgo.Tool {
	return mcpgo.NewTool("classify_hotspot",
		mcpgo.WithDescription("Apply the service, structural and volume rules to a hotspot and suggest a priority. Nothing is stored."),
		mcpgo.WithBoolean("condoms", mcpgo.Description("Condoms are available at the site")),
		mcpgo.WithBoolean("lube", mcpgo.Description("Lubricants are available at the site")),
		mcpgo.WithNumber("clinic_distance", mcpgo.Description("Distance to the nearest clinic in km")),
		mcpgo.WithBoolean("kp_friendly", mcpgo.Description("The nearest clinic is KP friendly")),
		mcpgo.WithString("police", mcpgo.Description("Police harassment reported: Yes or No")),
		mcpgo.WithString("violence", mcpgo.Description("Violence: None, Low, Medium or High")),
		mcpgo.WithString("stigma", mcpgo.Description("Stigma: None, Low, Medium or High")),
		mcpgo.WithObject("population",
			mcpgo.Description(`Age-band estimates per group, e.g. {"FSW":{"a1":10,"a2":20,"a3":5}}`),
		),
	)
}

func buildGenerateUINTool() mcpgo.Tool {
	return mcpgo.NewTool("generate_uin",
		mcpgo.WithDescription("Generate a Unique Identifier Number that is not yet in the registry. Nothing is reserved."),
		mcpgo.WithString("gender",
			mcpgo.Required(),
			mcpgo.Description("Gender category; Female yields the V prefix, anything else M"),
		),
		mcpgo.WithString("area",
			mcpgo.Required(),
			mcpgo.Description("Area name; its first letter becomes the second segment"),
		),
	)
}

func buildAssessRiskTool() mcpgo.Tool {
	return mcpgo.NewTool("assess_risk",
		mcpgo.WithDescription("Derive a risk level from identified risk factors and, when text generation is configured, summarise it."),
		mcpgo.WithArray("factors",
			mcpgo.Required(),
			mcpgo.Description("Identified risk factors"),
			mcpgo.Items(map[string]any{"type": "string"}),
		),
		mcpgo.WithString("level",
			mcpgo.Description("Assigned risk level: Low, Medium or High (default: derived from the factor count)"),
		),
	)
}

// --- tool handlers ---

func (s *Server) handleDashboard(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.dash == nil {
		return mcpgo.NewToolResultError("dashboard is unavailable"), nil
	}
	f := dashboard.Filter{
		Ward:     req.GetString("ward", ""),
		Risk:     models.RiskLevel(req.GetString("risk", "")),
		Typology: req.GetString("typology", ""),
	}
	if f.Risk != "" && !f.Risk.IsValid() {
		return mcpgo.NewToolResultErrorf("invalid risk %q: must be one of Low, Medium, High, Unknown", f.Risk), nil
	}
	sum, err := s.dash.Build(ctx, f)
	if err != nil {
		return mcpgo.NewToolResultErrorf("dashboard failed: %s", err.Error()), nil
	}
	return toolResultJSON(sum)
}

func (s *Server) handleClassifyHotspot(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.cls == nil {
		return mcpgo.NewToolResultError("classifier is unavailable"), nil
	}
	pop, err := population(req.GetArguments()["population"])
	if err != nil {
		return mcpgo.NewToolResultErrorf("invalid population: %s", err.Error()), nil
	}
	pop, err = intake.NormalizePopulation(pop)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	h := models.HotspotProfile{
		PopulationData: pop,
		Services: models.Services{
			Condoms:        req.GetBool("condoms", false),
			Lube:           req.GetBool("lube", false),
			ClinicDistance: req.GetFloat("clinic_distance", 0),
			KPFriendly:     req.GetBool("kp_friendly", false),
		},
		Structural: models.Structural{
			Police:   req.GetString("police", ""),
			Violence: req.GetString("violence", ""),
			Stigma:   req.GetString("stigma", ""),
		},
	}
	return toolResultJSON(s.cls.AssessHotspot(h))
}

func (s *Server) handleGenerateUIN(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.reg == nil {
		return mcpgo.NewToolResultError("registry is unavailable"), nil
	}
	code, err := s.reg.NewUIN(ctx, req.GetString("gender", ""), req.GetString("area", ""))
	if err != nil {
		return mcpgo.NewToolResultErrorf("uin generation failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: generated uin", "uin", code)
	return toolResultJSON(map[string]string{"uin": code})
}

func (s *Server) handleAssessRisk(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	factors := req.GetStringSlice("factors", nil)
	level := models.RiskLevel(req.GetString("level", ""))
	rr := recommend.NewRiskAssessmentRequest(factors, level)
	if err := rr.Validate(); err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"riskLevel": rr.AssignedRiskLevel,
		"factors":   len(rr.IdentifiedRiskFactors),
	}
	if s.recommend == nil || !s.recommend.Enabled() {
		return toolResultJSON(result)
	}
	resp, err := s.recommend.AssessRisk(ctx, rr)
	if err != nil {
		// The derived level stands on its own.
		result["warning"] = strings.TrimSpace("summary unavailable: " + err.Error())
		return toolResultJSON(result)
	}
	result["summary"] = resp.Summary
	result["rationale"] = resp.Rationale
	return toolResultJSON(result)
}

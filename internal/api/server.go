package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/microplan/internal/dashboard"
	"github.com/ajitpratap0/microplan/internal/forms"
	"github.com/ajitpratap0/microplan/internal/intake"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/network"
	"github.com/ajitpratap0/microplan/internal/outbox"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/registry"
	"github.com/ajitpratap0/microplan/internal/stock"
)

const maxBody = 1 << 20 // 1 MB

// Services are the components the API exposes.
type Services struct {
	Dashboard *dashboard.Builder
	Intake    *intake.Service
	Registry  *registry.Registry
	Recommend *recommend.Service
	Stock     *stock.Ledger
	Network   *network.Service
	Outbox    *outbox.Outbox
}

// Server is an HTTP API server for field submissions and the dashboard.
type Server struct {
	svc       Services
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(svc Services, logger *slog.Logger, authToken string) *Server {
	return &Server{svc: svc, logger: logger, authToken: authToken}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /v1/dashboard", s.auth(s.handleDashboard))
	mux.HandleFunc("POST /v1/outreach", s.auth(s.handleOutreach))
	mux.HandleFunc("POST /v1/hotspots", s.auth(s.handleHotspot))
	mux.HandleFunc("GET /v1/registry", s.auth(s.handleListRegistry))
	mux.HandleFunc("POST /v1/registry", s.auth(s.handleRegister))
	mux.HandleFunc("POST /v1/registry/{uin}/verify", s.auth(s.handleVerify))
	mux.HandleFunc("POST /v1/registry/{uin}/meetings", s.auth(s.handleMeeting))
	mux.HandleFunc("POST /v1/uin", s.auth(s.handleUIN))
	mux.HandleFunc("POST /v1/risk-assessment", s.auth(s.handleRiskAssessment))
	mux.HandleFunc("GET /v1/stock", s.auth(s.handleStock))
	mux.HandleFunc("POST /v1/stock", s.auth(s.handleCreateStock))
	mux.HandleFunc("POST /v1/stock/{id}/dispense", s.auth(s.handleStockMove(s.svc.Stock.Dispense)))
	mux.HandleFunc("POST /v1/stock/{id}/receive", s.auth(s.handleStockMove(s.svc.Stock.Receive)))

	mux.HandleFunc("GET /v1/network/{ward}", s.auth(s.handleNetwork))
	mux.HandleFunc("POST /v1/network/{ward}/nodes", s.auth(s.handleAddNode))
	mux.HandleFunc("POST /v1/network/{ward}/bridges", s.auth(s.handleAddBridge))
	mux.HandleFunc("GET /v1/outbox", s.auth(s.handleOutbox))
	mux.HandleFunc("POST /v1/outbox/retry", s.auth(s.handleOutboxRetry))

	mux.Handle("GET /debug/vars", s.auth(expvar.Handler().ServeHTTP))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"recommendations": s.svc.Recommend != nil && s.svc.Recommend.Enabled(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dashboard.Filter{
		Ward:     q.Get("ward"),
		Risk:     models.RiskLevel(q.Get("risk")),
		Typology: q.Get("typology"),
	}
	if f.Risk != "" && !f.Risk.IsValid() {
		s.writeFailure(w, models.NewValidationError("risk", "must be Low, Medium, High or Unknown"), "")
		return
	}
	sum, err := s.svc.Dashboard.Build(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to build dashboard", "error", err)
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// outreachRequest is the body accepted by POST /v1/outreach.
type outreachRequest struct {
	models.OutreachVisit
	WithRecommendation bool `json:"withRecommendation"`
}

func (s *Server) handleOutreach(w http.ResponseWriter, r *http.Request) {
	var req outreachRequest
	if !s.decode(w, r, &req) {
		return
	}
	f, err := forms.Run(r.Context(), forms.New[models.OutreachVisit, *intake.VisitResult](req.OutreachVisit),
		func(ctx context.Context, v models.OutreachVisit) (*intake.VisitResult, error) {
			return s.svc.Intake.SubmitVisit(ctx, v, req.WithRecommendation)
		})
	if err != nil {
		s.writeFailure(w, err, f.Notice)
		return
	}
	s.writeJSON(w, http.StatusCreated, *f.Result)
}

// hotspotRequest is the body accepted by POST /v1/hotspots.
type hotspotRequest struct {
	models.HotspotProfile
	WithRecommendation bool `json:"withRecommendation"`
}

func (s *Server) handleHotspot(w http.ResponseWriter, r *http.Request) {
	var req hotspotRequest
	if !s.decode(w, r, &req) {
		return
	}
	f, err := forms.Run(r.Context(), forms.New[models.HotspotProfile, *intake.HotspotResult](req.HotspotProfile),
		func(ctx context.Context, h models.HotspotProfile) (*intake.HotspotResult, error) {
			return s.svc.Intake.SubmitHotspot(ctx, h, req.WithRecommendation)
		})
	if err != nil {
		s.writeFailure(w, err, f.Notice)
		return
	}
	s.writeJSON(w, http.StatusCreated, *f.Result)
}

func (s *Server) handleListRegistry(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.Registry.List(r.Context(), r.URL.Query().Get("ward"))
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// registerRequest is the body accepted by POST /v1/registry. Without a UIN one
// is generated from gender and area.
type registerRequest struct {
	models.KPRecord
	Gender string `json:"gender"`
	Area   string `json:"area"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	var (
		rec *models.KPRecord
		err error
	)
	if strings.TrimSpace(req.UIN) != "" {
		rec, err = s.svc.Registry.Register(r.Context(), req.KPRecord)
	} else {
		rec, err = s.svc.Registry.Enrol(r.Context(), req.Gender, req.Area, req.KPRecord)
	}
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Registry.Verify(r.Context(), r.PathValue("uin"))
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMeeting(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Registry.RecordMeeting(r.Context(), r.PathValue("uin"))
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// uinRequest is the body accepted by POST /v1/uin.
type uinRequest struct {
	Gender string `json:"gender"`
	Area   string `json:"area"`
}

func (s *Server) handleUIN(w http.ResponseWriter, r *http.Request) {
	var req uinRequest
	if !s.decode(w, r, &req) {
		return
	}
	code, err := s.svc.Registry.NewUIN(r.Context(), req.Gender, req.Area)
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uin": code})
}

// riskAssessmentRequest is the body accepted by POST /v1/risk-assessment.
type riskAssessmentRequest struct {
	IdentifiedRiskFactors []string         `json:"identifiedRiskFactors"`
	AssignedRiskLevel     models.RiskLevel `json:"assignedRiskLevel"`
}

// riskAssessmentResponse is returned by POST /v1/risk-assessment.
type riskAssessmentResponse struct {
	RiskLevel models.RiskLevel `json:"riskLevel"`
	Summary   string           `json:"summary"`
	Rationale string           `json:"rationale"`
}

func (s *Server) handleRiskAssessment(w http.ResponseWriter, r *http.Request) {
	var req riskAssessmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	rr := recommend.NewRiskAssessmentRequest(req.IdentifiedRiskFactors, req.AssignedRiskLevel)
	resp, err := s.svc.Recommend.AssessRisk(r.Context(), rr)
	if err != nil {
		s.writeFailure(w, err, forms.Notice(err))
		return
	}
	s.writeJSON(w, http.StatusOK, riskAssessmentResponse{
		RiskLevel: rr.AssignedRiskLevel,
		Summary:   resp.Summary,
		Rationale: resp.Rationale,
	})
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	lines, err := s.svc.Stock.Lines(r.Context(), r.URL.Query().Get("facility"))
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": lines})
}

// createStockRequest is the body accepted by POST /v1/stock.
type createStockRequest struct {
	Name     string `json:"name"`
	Facility string `json:"facility"`
	Opening  int    `json:"opening"`
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.svc.Stock.Create(r.Context(), req.Name, req.Facility, req.Opening)
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

// stockMoveRequest is the body accepted by the dispense and receive routes.
type stockMoveRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) handleStockMove(move func(ctx context.Context, id string, qty int) (*models.StockItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stockMoveRequest
		if !s.decode(w, r, &req) {
			return
		}
		item, err := move(r.Context(), r.PathValue("id"), req.Quantity)
		if err != nil {
			s.writeFailure(w, err, "")
			return
		}
		s.writeJSON(w, http.StatusOK, s.svc.Stock.Line(*item))
	}
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.svc.Network == nil {
		s.writeError(w, http.StatusNotImplemented, "trust network is not configured")
		return
	}
	n, err := s.svc.Network.Get(r.Context(), r.PathValue("ward"))
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, n.WithInfluence())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var node models.SocialNode
	if !s.decode(w, r, &node) {
		return
	}
	s.applyNetwork(w, r, network.AddNode{Node: node})
}

func (s *Server) handleAddBridge(w http.ResponseWriter, r *http.Request) {
	var b models.TrustBridge
	if !s.decode(w, r, &b) {
		return
	}
	s.applyNetwork(w, r, network.AddBridge{Bridge: b})
}

func (s *Server) applyNetwork(w http.ResponseWriter, r *http.Request, a network.Action) {
	if s.svc.Network == nil {
		s.writeError(w, http.StatusNotImplemented, "trust network is not configured")
		return
	}
	n, err := s.svc.Network.Apply(r.Context(), r.PathValue("ward"), a)
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, n.WithInfluence())
}

func (s *Server) handleOutbox(w http.ResponseWriter, _ *http.Request) {
	entries := []outbox.Entry{}
	if s.svc.Outbox != nil {
		entries = s.svc.Outbox.Pending()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleOutboxRetry(w http.ResponseWriter, r *http.Request) {
	if s.svc.Outbox == nil {
		s.writeJSON(w, http.StatusOK, outbox.Report{})
		return
	}
	report, err := s.svc.Outbox.Run(r.Context())
	if err != nil {
		s.writeFailure(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string              `json:"error"`
	Notice string              `json:"notice,omitempty"`
	Fields []models.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error to an HTTP status. Recommendation failures are
// checked first because a malformed answer wraps a ValidationError.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrRecommendationFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error, notice string) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error(), Notice: notice}
	var ve *models.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &ve) {
		body.Fields = ve.Errors
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, body)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

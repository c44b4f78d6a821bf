// Package intake is the HTTP front door: verification webhooks, loan
// submissions and the decision read view.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

// DirectProcessor is the fast-path evaluation hook: when a verified match
// already exists at submission time, the decision happens inline instead of
// waiting for the next reconciliation cycle.
type DirectProcessor interface {
	ProcessDirect(ctx context.Context, applicant model.PendingApplicant) (record model.DecisionRecord, done bool, err error)
}

// Config holds intake server configuration.
type Config struct {
	// ForwardURL, when set, receives a fire-and-forget copy of every
	// verification webhook body.
	ForwardURL string
	// ServiceableProvinces limits which detected provinces are accepted.
	// Empty means every submission is serviceable.
	ServiceableProvinces []string
}

// Server routes intake traffic to the pipeline's stores.
type Server struct {
	router      *mux.Router
	logger      *slog.Logger
	log         service.CorrelationLog
	queue       service.PendingQueue
	ledger      service.DecisionLedger
	processor   DirectProcessor
	httpClient  *http.Client
	serviceable map[string]struct{}
	forwardURL  string
	startedAt   time.Time
}

// NewServer wires the intake routes. processor may be nil, in which case
// every submission goes through the queue.
func NewServer(log service.CorrelationLog, queue service.PendingQueue, ledger service.DecisionLedger,
	processor DirectProcessor, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger.With("component", "intake"),
		log:        log,
		queue:      queue,
		ledger:     ledger,
		processor:  processor,
		forwardURL: strings.TrimSpace(cfg.ForwardURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		startedAt:  time.Now(),
	}
	if len(cfg.ServiceableProvinces) > 0 {
		s.serviceable = make(map[string]struct{}, len(cfg.ServiceableProvinces))
		for _, p := range cfg.ServiceableProvinces {
			s.serviceable[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
		}
	}

	s.router.HandleFunc("/webhook/verification", s.handleVerification).Methods("POST")
	s.router.HandleFunc("/webhook/loan", s.handleLoan).Methods("POST")
	s.router.HandleFunc("/decisions", s.handleDecisions).Methods("GET")
	s.router.HandleFunc("/skipped", s.handleSkipped).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Use(requestIDMiddleware)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware tags every request with an id for log correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// handleVerification records an incoming verification event. The provider
// retries on non-200, so anything salvageable is acknowledged rather than
// bounced back.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		// Nothing to record; a non-2xx makes the provider redeliver.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	var event model.CorrelationEvent
	parsed := json.Unmarshal(body, &event) == nil
	if !parsed {
		// Still record a durable trace: the raw payload is kept and the
		// status marks the entry as never matchable.
		s.logger.Warn("unparseable verification webhook", "bytes", len(body))
		event = model.CorrelationEvent{
			Status:     model.StatusUnparseable,
			ReceivedAt: time.Now().UTC(),
			Raw:        truncateRaw(body),
		}
	}

	if err := s.log.Record(r.Context(), event); err != nil {
		s.logger.Error("failed to record verification event", "guid", event.GUID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	s.logger.Info("verification event logged", "guid", event.GUID, "status", event.Status)

	if !parsed {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if s.forwardURL != "" {
		go s.forward(body)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}

// truncateRaw bounds the stored copy of an unparseable webhook body.
func truncateRaw(body []byte) string {
	const maxRawBytes = 4096
	if len(body) > maxRawBytes {
		body = body[:maxRawBytes]
	}
	return string(body)
}

// forward relays the raw webhook body downstream. Failures are logged and
// forgotten; forwarding never blocks the acknowledgment.
func (s *Server) forward(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.forwardURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("failed to build forward request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("webhook forward failed", "url", s.forwardURL, "error", err)
		return
	}
	_ = resp.Body.Close()
}

// loanSubmission is the JSON shape of a loan webhook. Form-encoded bodies
// carry the same field names.
type loanSubmission struct {
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	LoanType   string          `json:"loan_type"`
	LoanAmount json.RawMessage `json:"loan_amount"`
	Address    string          `json:"address"`
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	submission, err := parseLoanSubmission(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "detail": err.Error()})
		return
	}
	if submission.FirstName == "" || submission.LastName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "detail": "first_name and last_name are required"})
		return
	}

	applicant := model.PendingApplicant{
		FirstName:   submission.FirstName,
		LastName:    submission.LastName,
		LoanType:    submission.LoanType,
		LoanAmount:  parseSubmittedAmount(submission.LoanAmount),
		SubmittedAt: time.Now(),
	}
	applicant.Normalize()

	if province := DetectProvince(submission.Address); !s.isServiceable(province) {
		s.logger.Info("submission skipped, unserviceable province",
			"applicant", applicant.Key(), "province", province)
		if err := s.ledger.AppendSkipped(r.Context(), model.SkippedApplicant{
			Timestamp:        time.Now(),
			FirstName:        applicant.FirstName,
			LastName:         applicant.LastName,
			Address:          submission.Address,
			DetectedProvince: province,
		}); err != nil {
			s.logger.Error("failed to record skipped applicant", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "province": province})
		return
	}

	if s.processor != nil {
		record, done, err := s.processor.ProcessDirect(r.Context(), applicant)
		if err == nil && done {
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "decided",
				"decision": record.Decision,
			})
			return
		}
		if err != nil {
			// Fall back to the queue; the reconciliation cycle will retry.
			s.logger.Warn("fast-path evaluation failed, queueing",
				"applicant", applicant.Key(), "error", err)
		}
	}

	if err := s.queue.Upsert(r.Context(), applicant); err != nil {
		s.logger.Error("failed to queue applicant", "applicant", applicant.Key(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// parseLoanSubmission accepts JSON or form-encoded bodies.
func parseLoanSubmission(r *http.Request) (loanSubmission, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var sub loanSubmission
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&sub); err != nil {
			return loanSubmission{}, err
		}
		sub.FirstName = strings.TrimSpace(sub.FirstName)
		sub.LastName = strings.TrimSpace(sub.LastName)
		return sub, nil
	}

	if err := r.ParseForm(); err != nil {
		return loanSubmission{}, err
	}
	amount, _ := json.Marshal(r.PostFormValue("loan_amount"))
	return loanSubmission{
		FirstName:  strings.TrimSpace(r.PostFormValue("first_name")),
		LastName:   strings.TrimSpace(r.PostFormValue("last_name")),
		LoanType:   r.PostFormValue("loan_type"),
		LoanAmount: amount,
		Address:    r.PostFormValue("address"),
	}, nil
}

// parseSubmittedAmount tolerates numbers and dollar strings.
func parseSubmittedAmount(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0
	}
	return model.ParseAmount(str)
}

// isServiceable reports whether a detected province passes the gate. An
// empty detection passes: the gate only turns away provinces it positively
// recognizes as out of territory.
func (s *Server) isServiceable(province string) bool {
	if s.serviceable == nil || province == "" {
		return true
	}
	_, ok := s.serviceable[province]
	return ok
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter := service.DecisionFilter{
		Decision: model.Decision(r.URL.Query().Get("decision")),
		Name:     r.URL.Query().Get("name"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "detail": "since must be RFC3339"})
			return
		}
		filter.Since = &since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "detail": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	records, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSkipped(w http.ResponseWriter, r *http.Request) {
	skipped, err := s.ledger.ListSkipped(r.Context())
	if err != nil {
		s.logger.Error("failed to list skipped applicants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	if skipped == nil {
		skipped = []model.SkippedApplicant{}
	}
	writeJSON(w, http.StatusOK, skipped)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rezenkai/crmflow/engine"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/trigger"
	"go.uber.org/zap"
)

// Sources are the inbound trigger bindings exposed over http.
type Sources struct {
	Webhook *trigger.WebhookSource
	API     *trigger.APISource
	Bus     trigger.Bus
}

type Server struct {
	http.Server
	Port    int
	engine  *engine.Engine
	sources Sources
}

func NewServer(httpPort int, eng *engine.Engine, sources Sources, gatherer prometheus.Gatherer) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			IdleTimeout:       2 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		engine:  eng,
		sources: sources,
		Port:    httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflows", s.HandleRegisterWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleUnregisterWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/workflows/{id}/execute", s.HandleExecuteWorkflow).Methods(http.MethodPost)

	router.HandleFunc("/executions", s.HandleListExecutions).Methods(http.MethodGet)
	router.HandleFunc("/executions/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/executions/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)

	router.HandleFunc("/webhooks/{path:.+}", s.HandleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/triggers/{workflowId}/{triggerId}", s.HandleInvokeTrigger).Methods(http.MethodPost)
	router.HandleFunc("/events/{event}", s.HandlePublishEvent).Methods(http.MethodPost)

	router.HandleFunc("/step-types", s.HandleStepTypes).Methods(http.MethodGet)
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug(r.RequestURI, zap.String("method", r.Method), zap.Duration("took", time.Since(start)))
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, errCode string, message string) {
	respondWithJSON(w, code, map[string]string{"error": message, "code": errCode})
}

// respondWithErr maps engine errors to a status by their code.
func respondWithErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case model.IsValidation(err):
		code = http.StatusBadRequest
	case model.IsNotFound(err), errors.Is(err, trigger.ErrNoRoute), errors.Is(err, trigger.ErrNotBound):
		code = http.StatusNotFound
	case model.IsConflict(err):
		code = http.StatusConflict
	case errors.Is(err, trigger.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, engine.ErrEngineStopped):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	respondWithError(w, code, model.ErrorCode(err), err.Error())
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return model.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func (s *Server) HandleStepTypes(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"stepTypes": s.engine.StepTypes()})
}

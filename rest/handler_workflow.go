package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

type ExecuteRequest struct {
	TriggerId string                  `json:"triggerId"`
	Input     map[string]any          `json:"input"`
	Context   *model.ExecutionContext `json:"context"`
}

func (s *Server) HandleRegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := decodeBody(r, &def); err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.engine.RegisterWorkflow(r.Context(), &def); err != nil {
		logger.Error("error registering workflow", zap.String("id", def.Id), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{
		"id":             def.Id,
		"version":        def.Version,
		"activeTriggers": s.engine.ActiveTriggers(def.Id),
	})
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.engine.ListWorkflows())
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, ok := s.engine.GetWorkflow(id)
	if !ok {
		respondWithErr(w, model.WorkflowNotFoundError{WorkflowID: id})
		return
	}
	respondOK(w, wf)
}

func (s *Server) HandleUnregisterWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.UnregisterWorkflow(r.Context(), id); err != nil {
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErr(w, err)
		return
	}
	if req.Context == nil {
		req.Context = &model.ExecutionContext{}
	}
	if len(req.Context.RequestId) == 0 {
		req.Context.RequestId = r.Header.Get("X-Request-Id")
	}
	if len(req.Context.Source) == 0 {
		req.Context.Source = "api"
	}
	execId, err := s.engine.ExecuteWorkflow(id, req.TriggerId, req.Input, req.Context)
	if err != nil {
		logger.Error("error running workflow", zap.String("id", id), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"executionId": execId})
}

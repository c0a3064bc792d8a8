package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rezenkai/crmflow/model"
)

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.engine.GetExecutions(r.URL.Query().Get("workflowId")))
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ex, ok := s.engine.GetExecution(id)
	if !ok {
		respondWithErr(w, model.ExecutionNotFoundError{ExecutionID: id})
		return
	}
	respondOK(w, ex)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.CancelExecution(id); err != nil {
		respondWithErr(w, err)
		return
	}
	ex, _ := s.engine.GetExecution(id)
	respondOK(w, ex)
}

package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.sources.Webhook == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := mux.Vars(r)["path"]
	payload := map[string]any{}
	if err := decodeBody(r, &payload); err != nil {
		respondWithErr(w, err)
		return
	}
	ids, err := s.sources.Webhook.Deliver(path, r.Header, payload)
	if err != nil {
		logger.Warn("webhook delivery failed", zap.String("path", path), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"executionIds": ids})
}

// HandleInvokeTrigger fires one api_call trigger. An empty executionId
// means the trigger conditions did not match.
func (s *Server) HandleInvokeTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sources.API == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	vars := mux.Vars(r)
	input := map[string]any{}
	if err := decodeBody(r, &input); err != nil {
		respondWithErr(w, err)
		return
	}
	partial := &model.ExecutionContext{
		RequestId: r.Header.Get("X-Request-Id"),
		UserId:    r.Header.Get("X-User-Id"),
	}
	id, err := s.sources.API.Invoke(vars["workflowId"], vars["triggerId"], input, partial)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"executionId": id})
}

func (s *Server) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	if s.sources.Bus == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	event := mux.Vars(r)["event"]
	payload := map[string]any{}
	if err := decodeBody(r, &payload); err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.sources.Bus.Publish(r.Context(), event, payload); err != nil {
		logger.Error("error publishing event", zap.String("event", event), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

package automation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/internal/workflow"
	"github.com/kazz187/taskflow/pkg/cerr"
)

const maxTriggerBody = 1 << 20

// Server accepts domain events raised outside this process, such as project
// and story creation.
type Server struct {
	dispatcher *Dispatcher
}

func NewServer(dispatcher *Dispatcher) *Server {
	return &Server{dispatcher: dispatcher}
}

func (s *Server) Mount(r chi.Router) {
	r.Post("/triggers/{type}", s.FireTrigger)
}

type FireTriggerResponse struct {
	JobIDs []string `json:"job_ids"`
}

func (s *Server) FireTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	triggerType, err := workflow.ParseTriggerType(chi.URLParam(r, "type"))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown trigger type", err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "failed to read request body", err)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "trigger context must be JSON", errors.New("invalid JSON body"))
		return
	}

	jobIDs := s.dispatcher.Trigger(ctx, triggerType, json.RawMessage(body))
	if jobIDs == nil {
		jobIDs = []string{}
	}
	cerr.SetJSONResponse(ctx, &FireTriggerResponse{JobIDs: jobIDs})
}

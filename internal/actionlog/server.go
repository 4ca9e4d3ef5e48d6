package actionlog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/pkg/cerr"
)

const defaultListLimit = 100

type Server struct {
	logger *Logger
}

func NewServer(logger *Logger) *Server {
	return &Server{logger: logger}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/action-logs", s.ListActionLogs)
}

type ListActionLogsResponse struct {
	Logs  []*ActionLog `json:"logs"`
	Total int          `json:"total"`
}

func (s *Server) ListActionLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid limit", err)
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid offset", err)
			return
		}
		offset = n
	}

	filter := ListFilter{
		WorkflowID: q.Get("workflow_id"),
		ActionID:   q.Get("action_id"),
		JobID:      q.Get("job_id"),
	}
	logs, total, err := s.logger.List(ctx, filter, limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if logs == nil {
		logs = []*ActionLog{}
	}
	cerr.SetJSONResponse(ctx, &ListActionLogsResponse{Logs: logs, Total: total})
}

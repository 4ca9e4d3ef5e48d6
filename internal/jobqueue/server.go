package jobqueue

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/pkg/cerr"
)

type Server struct {
	queue *Queue
}

func NewServer(queue *Queue) *Server {
	return &Server{queue: queue}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/failed", s.ListFailedJobs)
		r.Get("/{id}", s.GetJob)
		r.Post("/{id}/requeue", s.RequeueJob)
	})
}

type ListJobsResponse struct {
	Jobs []*Job `json:"jobs"`
}

func (s *Server) ListFailedJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobs, err := s.queue.ListFailed(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	cerr.SetJSONResponse(ctx, &ListJobsResponse{Jobs: jobs})
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.queue.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, job)
}

func (s *Server) RequeueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.queue.Requeue(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, job)
}

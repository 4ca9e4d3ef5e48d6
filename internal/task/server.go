package task

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/pkg/cerr"
)

type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

// Mount registers the task routes. Handlers report through cerr's JSON
// response middleware, which the caller installs.
func (s *Server) Mount(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.CreateTask)
		r.Get("/", s.ListTasks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetTask)
			r.Delete("/", s.DeleteTask)
			r.Put("/status", s.UpdateTaskStatus)
			r.Post("/reconcile", s.ReconcileTask)
			r.Post("/dependencies/{blockerID}", s.AddDependency)
			r.Delete("/dependencies/{blockerID}", s.RemoveDependency)
		})
	})
}

type ListTasksResponse struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if err := cerr.DecodeJSONBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.service.Create(ctx, req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var status Status
	if v := q.Get("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid status", err)
			return
		}
		status = st
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid limit", err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid offset", err)
		return
	}

	tasks, total, err := s.service.List(ctx, q.Get("project_id"), status, limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, &ListTasksResponse{Tasks: tasks, Total: total})
}

func (s *Server) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateStatusRequest
	if err := cerr.DecodeJSONBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.service.UpdateStatus(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.service.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
	}
}

// ReconcileTask lets an external writer of task status report the change.
func (s *Server) ReconcileTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.service.Get(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.service.OnStatusChanged(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.service.Get(ctx, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) AddDependency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.service.AddDependency(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "blockerID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.service.RemoveDependency(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "blockerID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

package workflow

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/pkg/cerr"
)

type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.CreateRule)
		r.Get("/", s.ListRules)
		r.Get("/{id}", s.GetRule)
		r.Put("/{id}/active", s.SetRuleActive)
		r.Delete("/{id}", s.DeleteRule)
	})
}

type ListRulesResponse struct {
	Rules []*Rule `json:"rules"`
}

type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRuleRequest
	if err := cerr.DecodeJSONBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	rule, err := s.service.Create(ctx, req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, rule)
}

func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var triggerType TriggerType
	if v := r.URL.Query().Get("trigger_type"); v != "" {
		tt, err := ParseTriggerType(v)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid trigger type", err)
			return
		}
		triggerType = tt
	}
	rules, err := s.service.List(ctx, triggerType)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if rules == nil {
		rules = []*Rule{}
	}
	cerr.SetJSONResponse(ctx, &ListRulesResponse{Rules: rules})
}

func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := s.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, rule)
}

func (s *Server) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SetActiveRequest
	if err := cerr.DecodeJSONBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	rule, err := s.service.SetActive(ctx, chi.URLParam(r, "id"), req.IsActive)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, rule)
}

func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.service.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
	}
}

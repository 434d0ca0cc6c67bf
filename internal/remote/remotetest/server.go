// Package remotetest runs an in-process fake of the contract service for
// tests.
package remotetest

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mpataki/clerk/internal/models"
)

const (
	EndpointTypes    = "types"
	EndpointTemplate = "template"
	EndpointValidate = "validate"
	EndpointGenerate = "generate"
	EndpointHealth   = "health"
)

// GeneratedAt is the naive timestamp the default generate handler returns.
const GeneratedAt = "2026-10-16T10:30:00.123456"

// Response is a canned reply: a status code and a JSON-encodable body.
type Response struct {
	Status int
	Body   any
}

type HandlerFunc func(contractType string, answers models.AnswerMap) Response

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	types     []models.ContractType
	templates map[string]*models.Template
	validate  HandlerFunc
	generate  HandlerFunc
	failures  map[string][]int
	calls     map[string]int
	bodies    map[string][]models.AnswerMap
	gate      chan struct{}
}

// New starts a server serving the given templates. The catalog lists them in
// the order given.
func New(tmpls ...*models.Template) *Server {
	s := &Server{
		templates: make(map[string]*models.Template),
		failures:  make(map[string][]int),
		calls:     make(map[string]int),
		bodies:    make(map[string][]models.AnswerMap),
	}
	for _, t := range tmpls {
		s.templates[t.ID] = t
		s.types = append(s.types, models.ContractType{ID: t.ID, Title: t.Title, Description: t.Description})
	}
	s.validate = func(string, models.AnswerMap) Response {
		return Response{Status: http.StatusOK, Body: map[string]any{"valid": true, "errors": []any{}}}
	}
	s.generate = s.defaultGenerate

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/contracts", func(r chi.Router) {
		r.Get("/types", s.handleTypes)
		r.Get("/{contractType}/template", s.handleTemplate)
		r.Post("/validate", s.handleForm(EndpointValidate))
		r.Post("/generate", s.handleForm(EndpointGenerate))
	})

	s.Server = httptest.NewServer(r)
	return s
}

// Close releases any held generate calls before shutting down.
func (s *Server) Close() {
	s.Release()
	s.Server.Close()
}

func (s *Server) SetValidate(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validate = fn
}

func (s *Server) SetGenerate(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generate = fn
}

// FailNext makes the next calls to endpoint reply with the given statuses, in
// order, before normal handling resumes.
func (s *Server) FailNext(endpoint string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], statuses...)
}

// Hold blocks generate calls until Release is called.
func (s *Server) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Bodies returns the form_data of every call received by a POST endpoint.
func (s *Server) Bodies(endpoint string) []models.AnswerMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AnswerMap(nil), s.bodies[endpoint]...)
}

// begin counts the call and reports a queued failure status, if any.
func (s *Server) begin(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	if queued := s.failures[endpoint]; len(queued) > 0 {
		s.failures[endpoint] = queued[1:]
		return queued[0]
	}
	return 0
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if status := s.begin(EndpointHealth); status != 0 {
		respondDetail(w, status, http.StatusText(status))
		return
	}
	s.mu.Lock()
	n := len(s.templates)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"status": "healthy", "templates_loaded": n})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	if status := s.begin(EndpointTypes); status != 0 {
		respondDetail(w, status, http.StatusText(status))
		return
	}
	s.mu.Lock()
	types := append([]models.ContractType(nil), s.types...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, types)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if status := s.begin(EndpointTemplate); status != 0 {
		respondDetail(w, status, http.StatusText(status))
		return
	}
	contractType := chi.URLParam(r, "contractType")

	s.mu.Lock()
	tmpl, ok := s.templates[contractType]
	s.mu.Unlock()
	if !ok {
		respondDetail(w, http.StatusNotFound, fmt.Sprintf("Contract template '%s' not found", contractType))
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleForm(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.begin(endpoint)

		var req struct {
			ContractType string           `json:"contract_type"`
			FormData     models.AnswerMap `json:"form_data"`
		}
		data, err := io.ReadAll(r.Body)
		if err == nil {
			err = sonic.Unmarshal(data, &req)
		}
		if err != nil {
			respondDetail(w, http.StatusUnprocessableEntity, "malformed request body")
			return
		}

		s.mu.Lock()
		s.bodies[endpoint] = append(s.bodies[endpoint], req.FormData)
		gate := s.gate
		handler := s.validate
		if endpoint == EndpointGenerate {
			handler = s.generate
		} else {
			gate = nil
		}
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if status != 0 {
			respondDetail(w, status, http.StatusText(status))
			return
		}
		resp := handler(req.ContractType, req.FormData)
		respondJSON(w, resp.Status, resp.Body)
	}
}

func (s *Server) defaultGenerate(contractType string, answers models.AnswerMap) Response {
	s.mu.Lock()
	tmpl, ok := s.templates[contractType]
	s.mu.Unlock()
	if !ok {
		return Response{Status: http.StatusNotFound, Body: map[string]any{"detail": "Contract template not found"}}
	}

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var md, html strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", tmpl.Title)
	fmt.Fprintf(&html, "<h1>%s</h1>", tmpl.Title)
	for _, k := range keys {
		fmt.Fprintf(&md, "- %s: %v\n", k, answers[k])
		fmt.Fprintf(&html, "<p>%s: %v</p>", k, answers[k])
	}

	return Response{Status: http.StatusOK, Body: map[string]any{
		"contract_type":      contractType,
		"title":              tmpl.Title,
		"content_markdown":   md.String(),
		"content_html":       html.String(),
		"content_pdf_base64": base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 " + tmpl.Title)),
		"generated_at":       GeneratedAt,
	}}
}

// ValidationFailed builds the 400 reply generate sends when the service
// rejects the answers.
func ValidationFailed(errs map[string]string) Response {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, map[string]string{"field": k, "message": errs[k]})
	}
	return Response{Status: http.StatusBadRequest, Body: map[string]any{
		"detail": map[string]any{"message": "Validation failed", "errors": items},
	}}
}

// Invalid builds a validate reply listing field errors.
func Invalid(errs map[string]string) Response {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, map[string]string{"field": k, "message": errs[k]})
	}
	return Response{Status: http.StatusOK, Body: map[string]any{"valid": false, "errors": items}}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := sonic.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]any{"detail": detail})
}

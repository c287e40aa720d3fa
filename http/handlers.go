package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"registrar/school"
	"registrar/ws"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

type Handlers struct {
	registry *school.Registry
	resolver *school.Resolver
	hub      *ws.Hub
}

func NewHandlers(registry *school.Registry, resolver *school.Resolver, hub *ws.Hub) *Handlers {
	return &Handlers{
		registry: registry,
		resolver: resolver,
		hub:      hub,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, school.ErrValidation), errors.Is(err, school.ErrMissingSelection):
		return http.StatusBadRequest
	case errors.Is(err, school.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, school.ErrDuplicateAssignment):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides storage details from the user; they go to the log.
func errorMessage(action string, err error) (int, string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s error: %v", action, err)
		return status, "Error " + action + ": please try again"
	}
	return status, err.Error()
}

func writeError(w http.ResponseWriter, action string, err error) {
	status, msg := errorMessage(action, err)
	writeJSON(w, status, map[string]string{"error": msg})
}

// publishRoster pushes the refreshed name lists to every open page.
func (h *Handlers) publishRoster(ctx context.Context) {
	h.hub.Publish(ctx)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Student handlers
func (h *Handlers) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.registry.ListStudents(r.Context())
	if err != nil {
		writeError(w, "listing students", err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handlers) AddStudent(w http.ResponseWriter, r *http.Request) {
	var req school.StudentInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	student, err := h.registry.AddStudent(r.Context(), req)
	if err != nil {
		writeError(w, "adding student", err)
		return
	}

	h.publishRoster(r.Context())
	writeJSON(w, http.StatusCreated, student)
}

// Course handlers
func (h *Handlers) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.registry.ListCourses(r.Context())
	if err != nil {
		writeError(w, "listing courses", err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (h *Handlers) AddCourse(w http.ResponseWriter, r *http.Request) {
	var req school.CourseInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	course, err := h.registry.AddCourse(r.Context(), req)
	if err != nil {
		writeError(w, "adding course", err)
		return
	}

	h.publishRoster(r.Context())
	writeJSON(w, http.StatusCreated, course)
}

// Assignment handlers
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.registry.ListAssignments(r.Context())
	if err != nil {
		writeError(w, "listing assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	var req school.AssignInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	assignment, err := h.resolver.Assign(r.Context(), req.StudentName, req.CourseName)
	if err != nil {
		writeError(w, "assigning student to course", err)
		return
	}

	writeJSON(w, http.StatusCreated, assignment)
}

func (h *Handlers) Roster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.registry.Roster(r.Context())
	if err != nil {
		writeError(w, "loading roster", err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// WebSocket handler
func (h *Handlers) HandleRosterSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.hub.HandleConnection(r.Context(), conn)
}

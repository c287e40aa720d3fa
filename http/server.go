package http

import (
	"net/http"
	"registrar/config"
	"registrar/school"
	"registrar/ws"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

type Server struct {
	router      *mux.Router
	handlers    *Handlers
	writeLimits *RateLimiter
}

func NewServer(registry *school.Registry, resolver *school.Resolver, hub *ws.Hub, cfg *config.Config) *Server {
	server := &Server{
		router:      mux.NewRouter(),
		handlers:    NewHandlers(registry, resolver, hub),
		writeLimits: NewRateLimiter(cfg.WriteRatePerMin, cfg.WriteBurst),
	}

	server.setupRoutes(cfg.CSRFKey)
	return server
}

func (s *Server) setupRoutes(csrfKey []byte) {
	s.router.Use(LoggingMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(s.writeLimits.Middleware)

	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(CORSMiddleware)
	api.HandleFunc("/students", s.handlers.ListStudents).Methods("GET")
	api.HandleFunc("/students", s.handlers.AddStudent).Methods("POST")
	api.HandleFunc("/courses", s.handlers.ListCourses).Methods("GET")
	api.HandleFunc("/courses", s.handlers.AddCourse).Methods("POST")
	api.HandleFunc("/assignments", s.handlers.ListAssignments).Methods("GET")
	api.HandleFunc("/assignments", s.handlers.Assign).Methods("POST")
	api.HandleFunc("/roster", s.handlers.Roster).Methods("GET")

	// Unmatched API routes get a JSON 404 instead of the HTML page.
	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	s.router.HandleFunc("/ws/roster", s.handlers.HandleRosterSocket)

	// HTML forms carry a CSRF token; the JSON API is not browser-session based.
	pages := s.router.NewRoute().Subrouter()
	pages.Use(PlaintextHTTPMiddleware)
	pages.Use(csrf.Protect(csrfKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailure)),
	))
	pages.HandleFunc("/", s.handlers.Index).Methods("GET")
	pages.HandleFunc("/students", s.handlers.SubmitStudent).Methods("POST")
	pages.HandleFunc("/courses", s.handlers.SubmitCourse).Methods("POST")
	pages.HandleFunc("/assignments", s.handlers.SubmitAssignment).Methods("POST")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.writeLimits.Stop()
}

func (s *Server) GetHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

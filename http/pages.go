package http

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"registrar/school"
	"registrar/store"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/csrf"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"optional": func(v *string) string {
		if v == nil {
			return ""
		}
		return *v
	},
	"stamp": func(t time.Time) string { return t.Local().Format(store.TimeLayout) },
	"ago":   humanize.Time,
}).ParseFS(templateFS, "templates/*.html"))

const (
	tabStudents = "students"
	tabCourses  = "courses"
	tabAssign   = "assign"
)

type indexPage struct {
	Tab         string
	Message     string
	Error       string
	Students    []*store.Student
	Courses     []*store.Course
	Assignments []*store.Assignment
	CSRFField   template.HTML
}

func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := indexPage{
		Tab:       r.URL.Query().Get("tab"),
		Message:   r.URL.Query().Get("msg"),
		Error:     r.URL.Query().Get("err"),
		CSRFField: csrf.TemplateField(r),
	}
	switch page.Tab {
	case tabStudents, tabCourses, tabAssign:
	default:
		page.Tab = tabStudents
	}

	var err error
	if page.Students, err = h.registry.ListStudents(ctx); err != nil {
		h.renderFailure(w, "listing students", err)
		return
	}
	if page.Courses, err = h.registry.ListCourses(ctx); err != nil {
		h.renderFailure(w, "listing courses", err)
		return
	}
	if page.Assignments, err = h.registry.ListAssignments(ctx); err != nil {
		h.renderFailure(w, "listing assignments", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := pageTemplates.ExecuteTemplate(w, "index.html", page); err != nil {
		log.Printf("Failed to render index: %v", err)
	}
}

func (h *Handlers) renderFailure(w http.ResponseWriter, action string, err error) {
	status, msg := errorMessage(action, err)
	http.Error(w, msg, status)
}

func (h *Handlers) SubmitStudent(w http.ResponseWriter, r *http.Request) {
	_, err := h.registry.AddStudent(r.Context(), school.StudentInput{
		Name:  r.FormValue("name"),
		Email: r.FormValue("email"),
		Phone: r.FormValue("phone"),
	})
	if err != nil {
		redirectWithFlash(w, r, tabStudents, "", flashError("adding student", err))
		return
	}

	h.publishRoster(r.Context())
	redirectWithFlash(w, r, tabStudents, "Student added successfully!", "")
}

func (h *Handlers) SubmitCourse(w http.ResponseWriter, r *http.Request) {
	_, err := h.registry.AddCourse(r.Context(), school.CourseInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		redirectWithFlash(w, r, tabCourses, "", flashError("adding course", err))
		return
	}

	h.publishRoster(r.Context())
	redirectWithFlash(w, r, tabCourses, "Course added successfully!", "")
}

func (h *Handlers) SubmitAssignment(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.resolver.Assign(r.Context(), r.FormValue("student"), r.FormValue("course"))
	if err != nil {
		redirectWithFlash(w, r, tabAssign, "", flashError("assigning student to course", err))
		return
	}

	redirectWithFlash(w, r, tabAssign, "Assigned "+assignment.StudentName+" to "+assignment.CourseName, "")
}

func flashError(action string, err error) string {
	_, msg := errorMessage(action, err)
	return msg
}

// redirectWithFlash sends the browser back to the tab it came from (post,
// redirect, get) carrying the outcome in the query string.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, tab, msg, errMsg string) {
	q := url.Values{}
	q.Set("tab", tab)
	if msg != "" {
		q.Set("msg", msg)
	}
	if errMsg != "" {
		q.Set("err", errMsg)
	}
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusSeeOther)
}

func csrfFailure(w http.ResponseWriter, r *http.Request) {
	log.Printf("CSRF check failed for %s %s: %v", r.Method, r.URL.Path, csrf.FailureReason(r))
	http.Error(w, "Forbidden - the form has expired, reload the page and try again", http.StatusForbidden)
}

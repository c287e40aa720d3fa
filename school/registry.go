package school

import (
	"context"
	"errors"
	"fmt"
	"registrar/store"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrMissingSelection    = errors.New("please select both a student and a course")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	ErrStorage             = errors.New("storage error")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Registry struct {
	store store.Store
}

func NewRegistry(store store.Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) AddStudent(ctx context.Context, in StudentInput) (*store.Student, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	if err := validateInput(in); err != nil {
		return nil, err
	}

	student := &store.Student{
		Name:  in.Name,
		Email: optional(in.Email),
		Phone: optional(in.Phone),
	}

	id, err := r.store.CreateStudent(ctx, student.Name, student.Email, student.Phone)
	if err != nil {
		return nil, storageError(err)
	}
	student.ID = id
	return student, nil
}

func (r *Registry) AddCourse(ctx context.Context, in CourseInput) (*store.Course, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)

	if err := validateInput(in); err != nil {
		return nil, err
	}

	course := &store.Course{
		Name:        in.Name,
		Description: optional(in.Description),
	}

	id, err := r.store.CreateCourse(ctx, course.Name, course.Description)
	if err != nil {
		return nil, storageError(err)
	}
	course.ID = id
	return course, nil
}

func (r *Registry) ListStudents(ctx context.Context) ([]*store.Student, error) {
	students, err := r.store.ListStudents(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return students, nil
}

func (r *Registry) ListCourses(ctx context.Context) ([]*store.Course, error) {
	courses, err := r.store.ListCourses(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return courses, nil
}

func (r *Registry) ListAssignments(ctx context.Context) ([]*store.Assignment, error) {
	assignments, err := r.store.ListAssignments(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return assignments, nil
}

func (r *Registry) Roster(ctx context.Context) (*Roster, error) {
	students, err := r.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	courses, err := r.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	roster := &Roster{
		Students: make([]string, 0, len(students)),
		Courses:  make([]string, 0, len(courses)),
	}
	for _, s := range students {
		roster.Students = append(roster.Students, s.Name)
	}
	for _, c := range courses {
		roster.Courses = append(roster.Courses, c.Name)
	}
	return roster, nil
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return fmt.Errorf("%w: %s is required", ErrValidation, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s is invalid", ErrValidation, strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// optional maps an empty form field to an absent column value.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

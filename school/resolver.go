package school

import (
	"context"
	"errors"
	"fmt"
	"registrar/store"
	"strings"
	"time"
)

// Resolver turns the names picked in the assignment form into ids and
// records the assignment.
type Resolver struct {
	store store.Store
	now   func() time.Time
}

func NewResolver(store store.Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// WithClock replaces the time source used to stamp new assignments.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Assign links the named student to the named course. Lookups, the
// duplicate check and the insert share one transaction, so a failed call
// writes nothing.
func (r *Resolver) Assign(ctx context.Context, studentName, courseName string) (*store.Assignment, error) {
	studentName = strings.TrimSpace(studentName)
	courseName = strings.TrimSpace(courseName)

	if studentName == "" || courseName == "" {
		return nil, ErrMissingSelection
	}

	var assignment *store.Assignment
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		student, err := tx.FindStudentByName(ctx, studentName)
		if err != nil {
			return storageError(err)
		}
		if student == nil {
			return fmt.Errorf("%w: student %q", ErrNotFound, studentName)
		}

		course, err := tx.FindCourseByName(ctx, courseName)
		if err != nil {
			return storageError(err)
		}
		if course == nil {
			return fmt.Errorf("%w: course %q", ErrNotFound, courseName)
		}

		exists, err := tx.AssignmentExists(ctx, student.ID, course.ID)
		if err != nil {
			return storageError(err)
		}
		if exists {
			return duplicateError(studentName, courseName)
		}

		assignedAt := r.now().Truncate(time.Second)
		if err := tx.CreateAssignment(ctx, student.ID, course.ID, assignedAt); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return duplicateError(studentName, courseName)
			}
			return storageError(err)
		}

		assignment = &store.Assignment{
			CourseID:    course.ID,
			CourseName:  course.Name,
			StudentID:   student.ID,
			StudentName: student.Name,
			AssignedAt:  assignedAt,
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, storageError(err)
	}

	return assignment, nil
}

func duplicateError(studentName, courseName string) error {
	return fmt.Errorf("%w: %s is already assigned to %s", ErrDuplicateAssignment, studentName, courseName)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateAssignment) ||
		errors.Is(err, ErrStorage)
}

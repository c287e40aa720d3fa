package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// TimeLayout is the format of the assigned_date column. Values are stored
// in UTC so they read back unambiguously across DST changes.
const TimeLayout = "2006-01-02 15:04:05"

// ErrDuplicate is returned when an assignment for the same student and
// course pair is already stored.
var ErrDuplicate = errors.New("assignment already exists")

type Store interface {
	InitSchema(ctx context.Context) error
	CreateStudent(ctx context.Context, name string, email, phone *string) (int64, error)
	CreateCourse(ctx context.Context, name string, description *string) (int64, error)
	ListStudents(ctx context.Context) ([]*Student, error)
	ListCourses(ctx context.Context) ([]*Course, error)
	ListAssignments(ctx context.Context) ([]*Assignment, error)
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of statements that run inside a single transaction.
type Tx interface {
	FindStudentByName(ctx context.Context, name string) (*Student, error)
	FindCourseByName(ctx context.Context, name string) (*Course, error)
	AssignmentExists(ctx context.Context, studentID, courseID int64) (bool, error)
	CreateAssignment(ctx context.Context, studentID, courseID int64, assignedAt time.Time) error
}

type Student struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

type Course struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Assignment struct {
	CourseID    int64     `json:"courseId"`
	CourseName  string    `json:"courseName"`
	StudentID   int64     `json:"studentId"`
	StudentName string    `json:"studentName"`
	AssignedAt  time.Time `json:"assignedAt"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single writer, single reader: every statement goes through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// InitSchema creates the tables when they are missing. Existing tables and
// their rows are left untouched.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		for _, stmt := range schema {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return nil
	})
}

// withConn hands fn a dedicated connection and releases it on every exit path.
func (s *SQLiteStore) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

func (s *SQLiteStore) CreateStudent(ctx context.Context, name string, email, phone *string) (int64, error) {
	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx,
			"INSERT INTO students (name, email, phone) VALUES (?, ?, ?)",
			name, nullString(email), nullString(phone),
		)
		if err != nil {
			return fmt.Errorf("failed to create student: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

func (s *SQLiteStore) CreateCourse(ctx context.Context, name string, description *string) (int64, error) {
	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx,
			"INSERT INTO courses (course_name, description) VALUES (?, ?)",
			name, nullString(description),
		)
		if err != nil {
			return fmt.Errorf("failed to create course: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

func (s *SQLiteStore) ListStudents(ctx context.Context) ([]*Student, error) {
	students := make([]*Student, 0)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT id, name, email, phone FROM students ORDER BY id")
		if err != nil {
			return fmt.Errorf("failed to list students: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			student := &Student{}
			var email, phone sql.NullString
			if err := rows.Scan(&student.ID, &student.Name, &email, &phone); err != nil {
				return fmt.Errorf("failed to scan student: %w", err)
			}
			student.Email = stringPtr(email)
			student.Phone = stringPtr(phone)
			students = append(students, student)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

func (s *SQLiteStore) ListCourses(ctx context.Context) ([]*Course, error) {
	courses := make([]*Course, 0)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT id, course_name, description FROM courses ORDER BY id")
		if err != nil {
			return fmt.Errorf("failed to list courses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			course := &Course{}
			var description sql.NullString
			if err := rows.Scan(&course.ID, &course.Name, &description); err != nil {
				return fmt.Errorf("failed to scan course: %w", err)
			}
			course.Description = stringPtr(description)
			courses = append(courses, course)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return courses, nil
}

func (s *SQLiteStore) ListAssignments(ctx context.Context) ([]*Assignment, error) {
	assignments := make([]*Assignment, 0)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT c.id, c.course_name, s.id, s.name, sc.assigned_date
			FROM student_courses sc
			JOIN students s ON s.id = sc.student_id
			JOIN courses c ON c.id = sc.course_id
			ORDER BY c.course_name, s.id
		`)
		if err != nil {
			return fmt.Errorf("failed to list assignments: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			a := &Assignment{}
			var assignedAt string
			if err := rows.Scan(&a.CourseID, &a.CourseName, &a.StudentID, &a.StudentName, &assignedAt); err != nil {
				return fmt.Errorf("failed to scan assignment: %w", err)
			}
			a.AssignedAt, err = time.ParseInLocation(TimeLayout, assignedAt, time.UTC)
			if err != nil {
				return fmt.Errorf("failed to parse assigned date %q: %w", assignedAt, err)
			}
			a.AssignedAt = a.AssignedAt.Local()
			assignments = append(assignments, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// RunInTx runs fn inside one transaction. The transaction is committed only
// when fn returns nil.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(&sqliteTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}


func (t *sqliteTx) AssignmentExists(ctx context.Context, studentID, courseID int64) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM student_courses WHERE student_id = ? AND course_id = ?)",
		studentID, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment: %w", err)
	}
	return exists == 1, nil
}

func (t *sqliteTx) CreateAssignment(ctx context.Context, studentID, courseID int64, assignedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO student_courses (student_id, course_id, assigned_date) VALUES (?, ?, ?)",
		studentID, courseID, assignedAt.UTC().Format(TimeLayout),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// FindStudentByName returns nil, nil when no student has that exact name.
// The lowest id wins when several rows share a name.
func (t *sqliteTx) FindStudentByName(ctx context.Context, name string) (*Student, error) {
	student := &Student{}
	var email, phone sql.NullString
	err := t.tx.QueryRowContext(ctx,
		"SELECT id, name, email, phone FROM students WHERE name = ? ORDER BY id LIMIT 1",
		name,
	).Scan(&student.ID, &student.Name, &email, &phone)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	student.Email = stringPtr(email)
	student.Phone = stringPtr(phone)
	return student, nil
}

func (t *sqliteTx) FindCourseByName(ctx context.Context, name string) (*Course, error) {
	course := &Course{}
	var description sql.NullString
	err := t.tx.QueryRowContext(ctx,
		"SELECT id, course_name, description FROM courses WHERE course_name = ? ORDER BY id LIMIT 1",
		name,
	).Scan(&course.ID, &course.Name, &description)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	course.Description = stringPtr(description)
	return course, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

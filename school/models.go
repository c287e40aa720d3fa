package school

type StudentInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type CourseInput struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type AssignInput struct {
	StudentName string `json:"studentName"`
	CourseName  string `json:"courseName"`
}

// Roster holds the names offered in the assignment dropdowns.
type Roster struct {
	Students []string `json:"students"`
	Courses  []string `json:"courses"`
}

package rbac

// Roles carried by hub sessions. Instructor and Learner come from the LTI
// launch; admin is reserved for service tokens.
const (
	RoleInstructor = "Instructor"
	RoleLearner    = "Learner"
	RoleAdmin      = "admin"
)

const (
	PermGradesSend  = "grades:send"
	PermFilesSelect = "files:select"
	PermSessionView = "session:view"
)

var RolePermissions = map[string][]string{
	RoleLearner: {
		PermSessionView,
	},
	RoleInstructor: {
		PermSessionView,
		"grades:*",
		"files:*",
	},
	RoleAdmin: {
		"*",
	},
}

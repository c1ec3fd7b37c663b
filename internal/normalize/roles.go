package normalize

// Group is the hub-side destination for an enrolled user.
type Group string

const (
	GroupStudents    Group = "students"
	GroupInstructors Group = "instructors"
	GroupGraders     Group = "graders"
)

// Moodle role shortnames, lowest priority first.
const (
	RoleStudent              = "student"
	RoleTeachingAssistant    = "teaching_assistant"
	RoleTeacher              = "teacher"
	RoleInstructionalSupport = "instructional_support"
	RoleEditingTeacher       = "editingteacher"
	RoleManager              = "manager"
	RoleCourseCreator        = "coursecreator"
)

// RolePriority is the total order used by FindHighestRole.
var RolePriority = []string{
	RoleStudent,
	RoleTeachingAssistant,
	RoleTeacher,
	RoleInstructionalSupport,
	RoleEditingTeacher,
	RoleManager,
	RoleCourseCreator,
}

var roleGroups = map[string]Group{
	RoleStudent:              GroupStudents,
	RoleEditingTeacher:       GroupInstructors,
	RoleManager:              GroupInstructors,
	RoleCourseCreator:        GroupInstructors,
	RoleInstructionalSupport: GroupInstructors,
	RoleTeachingAssistant:    GroupGraders,
	RoleTeacher:              GroupGraders,
}

// UserGroup maps a single role shortname to its group. Unknown roles are an
// error so that nobody lands in a group with the wrong permissions.
func UserGroup(role string) (Group, error) {
	g, ok := roleGroups[role]
	if !ok {
		return "", &UnknownRoleError{Role: role}
	}
	return g, nil
}

func rank(role string) int {
	for i, r := range RolePriority {
		if r == role {
			return i
		}
	}
	return -1
}

// FindHighestRole returns the role with the greatest priority in roles.
func FindHighestRole(roles []string) (string, error) {
	if len(roles) == 0 {
		return "", ErrEmptyRoleList
	}
	best, bestRank := "", -1
	for _, r := range roles {
		n := rank(r)
		if n < 0 {
			return "", &UnknownRoleError{Role: r}
		}
		if n > bestRank {
			best, bestRank = r, n
		}
	}
	return best, nil
}

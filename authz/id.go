package authz

import "regexp"

var (
	userIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)
	permissionPattern = regexp.MustCompile(`^[a-zA-Z0-9_:.-]{1,64}$`)
)

// ValidUserID reports whether id may be used as a permission-record key.
// Every Service operation checks it before touching the store.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ValidPermission reports whether name is a well-formed permission name.
func ValidPermission(name string) bool {
	return permissionPattern.MatchString(name)
}

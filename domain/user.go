package domain

// Role of a user as known by the external profile service.
type Role string

const (
	RoleUser   Role = "USER"
	RoleExpert Role = "EXPERT"
)

// User is owned by the user-management collaborator; the engine only
// keeps its ID as a foreign reference.
type User struct {
	ID        string
	Name      string
	AvatarURL string
	Role      Role
}

// Country as returned by the geolocation collaborator.
type Country struct {
	Code string
	Name string
}

package domain

type Role string

const (
	RoleClient    Role = "client"
	RolePerformer Role = "performer"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RolePerformer, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// SystemActorID is recorded as cancelledBy when the platform itself acts.
const SystemActorID = "system"

type Actor struct {
	ID   string
	Role Role
}

func SystemActor() Actor {
	return Actor{ID: SystemActorID, Role: RoleSystem}
}

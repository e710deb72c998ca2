package models

// Actor is who performed a write and from which device. ID 0 is the system
// (auto-close).
type Actor struct {
	ID       uint
	Name     string
	Role     UserRole
	BranchID *uint
	Device   string
}

func SystemActor(device string) Actor {
	return Actor{Name: "system", Device: device}
}

package model

// Principal is the authenticated caller of a control-plane operation.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// SystemActor is recorded when an action has no human caller.
const SystemActor = "system"

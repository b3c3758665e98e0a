package domain

// APIKey maps a hashed key to the actor it authenticates.
type APIKey struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (k APIKey) Actor() Actor {
	return Actor{ID: k.ActorID, Name: k.ActorName, Role: k.Role}
}

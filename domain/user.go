package domain

import "time"

// User is the subject record the core resolves CIBA hints and journey
// identities against. Account management itself lives outside the core.
type User struct {
	ID        string    `bson:"_id" json:"id"`
	TenantID  string    `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Email     string    `bson:"email" json:"email"`
	Username  string    `bson:"username" json:"username"`
	Password  string    `bson:"password,omitempty" json:"-"` // bcrypt hash
	IsActive  bool      `bson:"is_active" json:"is_active"`
	Roles     []string  `bson:"roles,omitempty" json:"roles,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

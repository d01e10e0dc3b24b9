package partners

import "time"

// Kind distinguishes suppliers from customers.
type Kind string

const (
	KindSupplier Kind = "supplier"
	KindCustomer Kind = "customer"
)

// Valid reports whether k is a known partner kind.
func (k Kind) Valid() bool {
	return k == KindSupplier || k == KindCustomer
}

// Partner is a supplier or customer referenced by stock movements.
type Partner struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// PartnerForm is the create payload.
type PartnerForm struct {
	Kind  Kind   `json:"kind" validate:"required,oneof=supplier customer"`
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=20"`
}

package rbac

import (
	"fmt"
	"strings"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
)

// ParseRole normalises a stored role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleManager:
		return RoleManager, nil
	case RoleOperator:
		return RoleOperator, nil
	}
	return "", fmt.Errorf("rbac: unknown role %q", raw)
}

// Capability represents an atomic operation a role may perform.
type Capability string

const (
	CapInventoryView      Capability = "inventory.view"
	CapInventoryMove      Capability = "inventory.move"
	CapInventoryReconcile Capability = "inventory.reconcile"
	CapInventoryBulk      Capability = "inventory.bulk"
	CapProductsManage     Capability = "products.manage"
	CapWebhooksManage     Capability = "webhooks.manage"
)

var operatorCaps = []Capability{CapInventoryView, CapInventoryMove}

var managerCaps = append(append([]Capability{}, operatorCaps...),
	CapInventoryReconcile, CapInventoryBulk, CapProductsManage)

var adminCaps = append(append([]Capability{}, managerCaps...), CapWebhooksManage)

var capabilityTable = buildTable(map[Role][]Capability{
	RoleOperator: operatorCaps,
	RoleManager:  managerCaps,
	RoleAdmin:    adminCaps,
})

type grant struct {
	role Role
	cap  Capability
}

func buildTable(src map[Role][]Capability) map[grant]struct{} {
	table := make(map[grant]struct{})
	for role, caps := range src {
		for _, c := range caps {
			table[grant{role: role, cap: c}] = struct{}{}
		}
	}
	return table
}

// Allowed reports whether role holds capability.
func Allowed(role Role, c Capability) bool {
	_, ok := capabilityTable[grant{role: role, cap: c}]
	return ok
}

// Capabilities lists the capabilities granted to role.
func Capabilities(role Role) []Capability {
	switch role {
	case RoleAdmin:
		return append([]Capability{}, adminCaps...)
	case RoleManager:
		return append([]Capability{}, managerCaps...)
	case RoleOperator:
		return append([]Capability{}, operatorCaps...)
	}
	return nil
}

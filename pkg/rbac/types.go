package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/posalpro/posalpro/pkg/auth"
)

// Wildcard matches any resource or action in a permission string
const Wildcard = "*"

// Scope narrows a permission to a subset of records
type Scope string

const (
	ScopeAll  Scope = "ALL"  // Every record
	ScopeOwn  Scope = "OWN"  // Records owned by the requester
	ScopeTeam Scope = "TEAM" // Records belonging to the requester's team
)

func (s Scope) valid() bool {
	switch s {
	case ScopeAll, ScopeOwn, ScopeTeam:
		return true
	}
	return false
}

// Permission is a "resource:action" grant, optionally suffixed with a scope
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    Scope  `json:"scope,omitempty"`
}

// String returns the canonical permission string
func (p Permission) String() string {
	if p.Scope == "" {
		return p.Resource + ":" + p.Action
	}
	return p.Resource + ":" + p.Action + ":" + string(p.Scope)
}

// ErrInvalidPermission is returned for malformed permission strings
var ErrInvalidPermission = errors.New("invalid permission")

// ParsePermission parses "resource:action" or "resource:action:SCOPE"
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}

	p := Permission{
		Resource: strings.TrimSpace(parts[0]),
		Action:   strings.TrimSpace(parts[1]),
	}
	if p.Resource == "" || p.Action == "" {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}

	if len(parts) == 3 {
		p.Scope = Scope(strings.ToUpper(strings.TrimSpace(parts[2])))
		if !p.Scope.valid() {
			return Permission{}, fmt.Errorf("%w: unknown scope in %q", ErrInvalidPermission, s)
		}
	}

	return p, nil
}

// MustParsePermission is ParsePermission for static tables
func MustParsePermission(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PermissionStrings renders permissions in their string form
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// Role represents a role with a set of permissions
type Role struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description"`
	Permissions  []Permission `json:"permissions"`
	ParentRoleID *int64       `json:"parent_role_id,omitempty"` // One level of inheritance
	IsBuiltIn    bool         `json:"is_built_in"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// User is the subset of a user record the validator needs
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	TeamID       string    `json:"team_id,omitempty"`
	DepartmentID string    `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PermissionContext describes the record a permission is checked against
type PermissionContext struct {
	ResourceID    string                 `json:"resourceId,omitempty"`
	ResourceType  string                 `json:"resourceType,omitempty"`
	ResourceOwner string                 `json:"resourceOwner,omitempty"`
	TeamID        string                 `json:"teamId,omitempty"`
	DepartmentID  string                 `json:"departmentId,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationResult is the outcome of a permission validation
type ValidationResult struct {
	Granted       bool   `json:"granted"`
	Reason        string `json:"reason"`
	AppliedRule   string `json:"appliedRule,omitempty"`
	InheritedFrom string `json:"inheritedFrom,omitempty"`
}

// Validation reasons
const (
	ReasonDirect           = "Direct permission granted"
	ReasonWildcard         = "Wildcard permission granted"
	ReasonScoped           = "Scoped permission granted"
	ReasonContextGrant     = "Granted by context rule"
	ReasonContextDeny      = "Denied by context rule"
	ReasonInherited        = "Permission inherited from parent role"
	ReasonNoMatch          = "No matching permissions found"
	ReasonValidationFailed = "Permission validation failed"
)

// Operator compares a context attribute against a rule value
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpContains    Operator = "CONTAINS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpExpression  Operator = "EXPRESSION" // Value is a CEL boolean expression
)

// Effect is what a matching context rule decides
type Effect string

const (
	EffectGrant Effect = "GRANT"
	EffectDeny  Effect = "DENY"
)

// ContextRule is a per-role attribute rule evaluated against a
// PermissionContext. Attribute is a dotted path such as "metadata.amount".
type ContextRule struct {
	ID        int64     `json:"id"`
	RoleID    int64     `json:"role_id"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Attribute string    `json:"attribute,omitempty"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
	Effect    Effect    `json:"effect"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Applies reports whether the rule targets resource:action
func (r ContextRule) Applies(resource, action string) bool {
	return (r.Resource == Wildcard || r.Resource == resource) &&
		(r.Action == Wildcard || r.Action == action)
}

// String names the rule in validation results
func (r ContextRule) String() string {
	if r.Operator == OpExpression {
		return fmt.Sprintf("context:%d:%s:%s %s", r.ID, r.Resource, r.Action, r.Value)
	}
	return fmt.Sprintf("context:%d:%s:%s %s %s %s", r.ID, r.Resource, r.Action, r.Attribute, r.Operator, r.Value)
}

// Store errors
var (
	ErrRoleNotFound         = errors.New("role not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrRoleNotAssigned      = errors.New("role not assigned to user")
	ErrPermissionNotGranted = errors.New("permission not granted to user")
	ErrBuiltInRole          = errors.New("built-in roles cannot be deleted")
)

// Built-in role names
const (
	RoleSystemAdministrator        = auth.RoleSystemAdministrator
	RoleAdministrator              = auth.RoleAdministrator
	RoleExecutive                  = "Executive"
	RoleSalesManager               = "Sales Manager"
	RoleSalesRepresentative        = "Sales Representative"
	RoleProposalSpecialist         = "Proposal Specialist"
	RoleBusinessDevelopmentManager = "Business Development Manager"
)

// RoleTemplate describes a built-in role. Parent names another template.
type RoleTemplate struct {
	Name        string
	DisplayName string
	Description string
	Parent      string
	Permissions []Permission
}

func perms(ss ...string) []Permission {
	out := make([]Permission, len(ss))
	for i, s := range ss {
		out[i] = MustParsePermission(s)
	}
	return out
}

// BuiltInRoles returns the roles seeded on first start. Parents are listed
// before their children.
func BuiltInRoles() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        RoleSystemAdministrator,
			DisplayName: "System Administrator",
			Description: "Unrestricted access to every resource",
			Permissions: perms("*:*"),
		},
		{
			Name:        RoleAdministrator,
			DisplayName: "Administrator",
			Description: "Manages users, roles and all business data",
			Permissions: perms(
				"users:*", "roles:*", "proposals:*", "customers:*", "products:*",
				"analytics:read", "security:read", "system:read",
			),
		},
		{
			Name:        RoleExecutive,
			DisplayName: "Executive",
			Description: "Read access to business data and approvals",
			Permissions: perms(
				"proposals:read:ALL", "proposals:approve:ALL", "customers:read:ALL",
				"products:read", "analytics:read", "users:read",
			),
		},
		{
			Name:        RoleSalesRepresentative,
			DisplayName: "Sales Representative",
			Description: "Works on their own proposals and customers",
			Permissions: perms(
				"proposals:create", "proposals:read:OWN", "proposals:update:OWN",
				"customers:read:OWN", "customers:update:OWN", "products:read",
			),
		},
		{
			Name:        RoleSalesManager,
			DisplayName: "Sales Manager",
			Description: "Manages proposals and customers of their team",
			Permissions: perms(
				"proposals:create", "proposals:read:TEAM", "proposals:update:TEAM",
				"proposals:approve:TEAM", "customers:read:TEAM", "customers:update:TEAM",
				"products:read", "users:read:TEAM", "analytics:read",
			),
		},
		{
			Name:        RoleProposalSpecialist,
			DisplayName: "Proposal Specialist",
			Description: "Prepares proposal content",
			Parent:      RoleSalesRepresentative,
			Permissions: perms("proposals:read:TEAM", "products:update", "content:*"),
		},
		{
			Name:        RoleBusinessDevelopmentManager,
			DisplayName: "Business Development Manager",
			Description: "Pursues new customers and opportunities",
			Parent:      RoleSalesRepresentative,
			Permissions: perms("customers:create", "customers:read:TEAM", "analytics:read"),
		},
	}
}

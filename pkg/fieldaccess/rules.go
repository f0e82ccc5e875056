package fieldaccess

import "slices"

// Admin role names. Holding either grants access to restricted and
// self-access-only fields.
const (
	RoleSystemAdministrator = "System Administrator"
	RoleAdministrator       = "Administrator"
)

// AccessContext carries the requester's identity for a single request
type AccessContext struct {
	UserID          string   `json:"userId,omitempty"`
	TargetUserID    string   `json:"targetUserId,omitempty"`
	UserRoles       []string `json:"userRoles,omitempty"`
	UserPermissions []string `json:"userPermissions,omitempty"`
}

// HasRole reports whether the requester holds role
func (ac *AccessContext) HasRole(role string) bool {
	return ac != nil && slices.Contains(ac.UserRoles, role)
}

// HasAnyRole reports whether the requester holds at least one of roles
func (ac *AccessContext) HasAnyRole(roles []string) bool {
	if ac == nil {
		return false
	}
	for _, r := range roles {
		if slices.Contains(ac.UserRoles, r) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the requester holds at least one of perms
func (ac *AccessContext) HasAnyPermission(perms []string) bool {
	if ac == nil {
		return false
	}
	for _, p := range perms {
		if slices.Contains(ac.UserPermissions, p) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the requester holds an admin role
func (ac *AccessContext) IsAdmin() bool {
	return ac.HasRole(RoleSystemAdministrator) || ac.HasRole(RoleAdministrator)
}

// IsSelf reports whether the requester is reading their own record
func (ac *AccessContext) IsSelf() bool {
	return ac != nil && ac.UserID != "" && ac.UserID == ac.TargetUserID
}

// Decision is the outcome of a single rule
type Decision int

const (
	// NotApplicable means the rule has nothing to say about the field
	NotApplicable Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "not_applicable"
	}
}

// Rule evaluates one kind of field annotation
type Rule interface {
	Name() string
	Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision
}

// PermissionRule decides fields listed in FieldPermissionMap. When it applies
// its answer is final.
type PermissionRule struct{}

func (PermissionRule) Name() string { return "permission" }

func (PermissionRule) Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision {
	if sec == nil {
		return NotApplicable
	}
	perms, ok := sec.FieldPermissionMap[field]
	if !ok {
		return NotApplicable
	}
	if ac.HasAnyPermission(perms) {
		return Allow
	}
	return Deny
}

// RestrictedRule denies restricted fields to non-admins
type RestrictedRule struct{}

func (RestrictedRule) Name() string { return "restricted" }

func (RestrictedRule) Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision {
	if !sec.IsRestricted(field) {
		return NotApplicable
	}
	if ac.IsAdmin() {
		return NotApplicable
	}
	return Deny
}

// RoleMapRule denies role-mapped fields to requesters holding none of the
// listed roles. Restricted fields are left to RestrictedRule.
type RoleMapRule struct{}

func (RoleMapRule) Name() string { return "role_map" }

func (RoleMapRule) Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision {
	if sec == nil || sec.IsRestricted(field) {
		return NotApplicable
	}
	roles, ok := sec.FieldRoleMap[field]
	if !ok {
		return NotApplicable
	}
	if ac.HasAnyRole(roles) {
		return NotApplicable
	}
	return Deny
}

// SelfAccessRule denies self-access-only fields on other users' records to
// non-admins
type SelfAccessRule struct{}

func (SelfAccessRule) Name() string { return "self_access" }

func (SelfAccessRule) Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision {
	if !sec.IsSelfAccessOnly(field) {
		return NotApplicable
	}
	if ac.IsSelf() || ac.IsAdmin() {
		return NotApplicable
	}
	return Deny
}

// MinRoleRule applies the legacy baseline role to fields with no specific
// annotation
type MinRoleRule struct{}

func (MinRoleRule) Name() string { return "min_role" }

func (MinRoleRule) Evaluate(field string, sec *SecurityConfig, ac *AccessContext) Decision {
	if sec == nil || sec.MinRole == "" || sec.hasSpecificRule(field) {
		return NotApplicable
	}
	if ac.HasRole(sec.MinRole) {
		return NotApplicable
	}
	return Deny
}

// DefaultRules is the evaluation order, most specific first
func DefaultRules() []Rule {
	return []Rule{
		PermissionRule{},
		RestrictedRule{},
		RoleMapRule{},
		SelfAccessRule{},
		MinRoleRule{},
	}
}

// Evaluator runs a fixed rule pipeline; the first decisive rule wins
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator over rules, or DefaultRules when none given
func NewEvaluator(rules ...Rule) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules}
}

// Decide returns the final decision and the rule that produced it. An empty
// rule name means no rule applied and the field is allowed.
func (e *Evaluator) Decide(field string, cfg FieldConfig, ac *AccessContext) (Decision, string) {
	if ac == nil {
		ac = &AccessContext{}
	}
	for _, rule := range e.rules {
		if d := rule.Evaluate(field, cfg.Security, ac); d != NotApplicable {
			return d, rule.Name()
		}
	}
	return Allow, ""
}

// HasFieldAccess reports whether ac may read field under cfg
func (e *Evaluator) HasFieldAccess(field string, cfg FieldConfig, ac *AccessContext) bool {
	d, _ := e.Decide(field, cfg, ac)
	return d == Allow
}

var defaultEvaluator = NewEvaluator()

// HasFieldAccess evaluates field against the default rule pipeline
func HasFieldAccess(field string, cfg FieldConfig, ac *AccessContext) bool {
	return defaultEvaluator.HasFieldAccess(field, cfg, ac)
}

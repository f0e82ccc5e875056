// Package rbac resolves whether a user may perform an action on a resource.
//
// # Permissions
//
// A permission is a "resource:action" string, optionally suffixed with a
// scope:
//
//	proposals:read        any proposal
//	proposals:read:ALL    any proposal
//	proposals:read:OWN    proposals whose owner is the requester
//	proposals:read:TEAM   proposals of the requester's team
//	proposals:*           every action on proposals
//	*:*                   everything
//
// A user's effective permission set is the union of their direct grants and
// the grants of their roles.
//
// # Resolution
//
// Validator.ValidatePermission tries, in order, and stops at the first
// success:
//
//  1. the direct permission
//  2. wildcards: "*:*", "resource:*", "*:action"
//  3. scoped permissions against the PermissionContext
//  4. context rules of the user's roles, highest priority first; the first
//     matching rule decides, GRANT or DENY
//  5. the permissions of each role's parent role (one level only)
//
// Otherwise the result is a denial with ReasonNoMatch. Lookup failures deny
// with ReasonValidationFailed; the validator never returns an error.
//
// Context rules compare a dotted attribute path of the context
// ("resourceOwner", "metadata.amount") with EQUALS, NOT_EQUALS, CONTAINS,
// GREATER_THAN or LESS_THAN, or evaluate a CEL expression:
//
//	rule := &rbac.ContextRule{
//		RoleID:   salesManager.ID,
//		Resource: "proposals",
//		Action:   "approve",
//		Operator: rbac.OpExpression,
//		Value:    `double(ctx.metadata.amount) <= 50000.0`,
//		Effect:   rbac.EffectGrant,
//	}
//	err := manager.AddContextRule(ctx, rule)
//
// # Caching
//
// Effective permission sets are cached in a process-local LRU in front of
// Redis, both with a five minute TTL. Manager mutations clear the affected
// users from both tiers:
//
//	manager, err := rbac.NewManager(db, redisClient, auditLogger, logger, metrics, rbac.DefaultConfig())
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	err = manager.AssignRole(ctx, adminID, userID, roleID)
//
// Writing to the store directly bypasses invalidation; call
// Validator.ClearUserCache afterwards.
package rbac

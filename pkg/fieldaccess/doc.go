// Package fieldaccess builds per-request field projections for database reads.
//
// # Overview
//
// Every entity exposed over the API has a static FieldConfig in the Catalog:
// the fields a client may ever request, the fields returned by default, the
// shape of related entities, and security annotations. A Builder combines that
// config with the caller's AccessContext and returns a Selection containing
// only the fields the caller may read.
//
// # Rule precedence
//
// Fields are evaluated by an ordered rule pipeline. The first rule that
// returns Allow or Deny decides the field; if none does, the field is allowed.
//
//	PermissionRule  - FieldPermissionMap; decides the field outright
//	RestrictedRule  - RestrictedFields; admins only
//	RoleMapRule     - FieldRoleMap; skipped for restricted fields
//	SelfAccessRule  - SelfAccessOnly; record subject or admin
//	MinRoleRule     - Security.MinRole; only for fields with no other rule
//
// # Usage
//
//	catalog, err := fieldaccess.DefaultCatalog()
//	builder := fieldaccess.NewBuilder(catalog, logger, metrics)
//	sel := builder.GetSelectionFromQuery("user", r.URL.Query().Get("fields"), &fieldaccess.AccessContext{
//		UserID:       rbacCtx.UserID,
//		TargetUserID: targetID,
//		UserRoles:    rbacCtx.Roles,
//	})
//
// Denied or unknown fields are dropped silently. An empty Selection means
// "identifier only" and is not an error.
package fieldaccess

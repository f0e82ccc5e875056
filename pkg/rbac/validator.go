package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posalpro/posalpro/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/posalpro/posalpro/pkg/rbac"

// Resolution steps, used as the metrics rule label
const (
	stepDirect    = "direct"
	stepWildcard  = "wildcard"
	stepScoped    = "scoped"
	stepContext   = "context"
	stepInherited = "inherited"
	stepNone      = "none"
	stepError     = "error"
)

// Validator resolves whether a user may perform an action on a resource.
// It is safe for concurrent use and is shared by every request.
type Validator struct {
	store   PermissionStore
	cache   PermissionCache
	rules   *ruleEvaluator
	group   singleflight.Group
	epochs  sync.Map // user ID -> *atomic.Uint64, created by the first clear
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewValidator creates a validator. A nil cache means a local-only cache
// with the default TTL. logger and metrics may be nil.
func NewValidator(store PermissionStore, cache PermissionCache, logger *observability.Logger, metrics *observability.Metrics) (*Validator, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cache == nil {
		cache = NewTieredCache(NewMemoryCache(0, DefaultCacheTTL), nil, logger, metrics)
	}

	rules, err := newRuleEvaluator()
	if err != nil {
		return nil, err
	}

	return &Validator{
		store:   store,
		cache:   cache,
		rules:   rules,
		logger:  logger.WithField("component", "permission_validator"),
		metrics: metrics,
	}, nil
}

// ValidatePermission decides whether userID may perform action on resource.
// It never returns an error: lookup failures and panics deny with
// ReasonValidationFailed.
func (v *Validator) ValidatePermission(ctx context.Context, userID, resource, action string, pc *PermissionContext) (result *ValidationResult) {
	start := time.Now()
	step := stepError

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rbac.ValidatePermission", trace.WithAttributes(
		attribute.String("rbac.resource", resource),
		attribute.String("rbac.action", action),
	))

	defer func() {
		if err := observability.PanicError(recover()); err != nil {
			v.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id":  userID,
				"resource": resource,
				"action":   action,
			}).Error("permission validation panicked")
			result = &ValidationResult{Reason: ReasonValidationFailed}
			step = stepError
		}
		if v.metrics != nil {
			v.metrics.RecordPermissionCheck(result.Granted, step, time.Since(start))
		}
		span.SetAttributes(
			attribute.Bool("rbac.granted", result.Granted),
			attribute.String("rbac.step", step),
		)
		if step == stepError {
			span.SetStatus(codes.Error, result.Reason)
		}
		span.End()
	}()

	res, resolvedStep, err := v.resolve(ctx, userID, resource, action, pc)
	if err != nil {
		v.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":  userID,
			"resource": resource,
			"action":   action,
		}).Error("permission validation failed")
		return &ValidationResult{Reason: ReasonValidationFailed}
	}

	step = resolvedStep
	if !res.Granted {
		v.logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"resource": resource,
			"action":   action,
			"reason":   res.Reason,
		}).Debug("permission denied")
	}
	return res
}

func (v *Validator) resolve(ctx context.Context, userID, resource, action string, pc *PermissionContext) (*ValidationResult, string, error) {
	if userID == "" {
		return &ValidationResult{Reason: ReasonNoMatch}, stepNone, nil
	}

	perms, err := v.GetUserPermissions(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	team := &teamLookup{store: v.store, userID: userID}

	m, err := matchGrant(ctx, toSet(perms), userID, resource, action, pc, team)
	if err != nil {
		return nil, "", err
	}
	if m != nil {
		return &ValidationResult{Granted: true, Reason: m.reason, AppliedRule: m.rule}, m.step, nil
	}

	roles, err := v.store.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	if res, err := v.applyContextRules(ctx, roles, userID, resource, action, pc); err != nil || res != nil {
		return res, stepContext, err
	}

	seen := make(map[int64]bool)
	for _, role := range roles {
		if role.ParentRoleID == nil || seen[*role.ParentRoleID] {
			continue
		}
		seen[*role.ParentRoleID] = true

		parent, err := v.store.GetRole(ctx, *role.ParentRoleID)
		if errors.Is(err, ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		m, err := matchGrant(ctx, toSet(PermissionStrings(parent.Permissions)), userID, resource, action, pc, team)
		if err != nil {
			return nil, "", err
		}
		if m != nil {
			return &ValidationResult{
				Granted:       true,
				Reason:        ReasonInherited,
				AppliedRule:   m.rule,
				InheritedFrom: parent.Name,
			}, stepInherited, nil
		}
	}

	return &ValidationResult{Reason: ReasonNoMatch}, stepNone, nil
}

// applyContextRules returns the decision of the first matching rule, or nil
// when no rule matches
func (v *Validator) applyContextRules(ctx context.Context, roles []Role, userID, resource, action string, pc *PermissionContext) (*ValidationResult, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	roleIDs := make([]int64, len(roles))
	for i, role := range roles {
		roleIDs[i] = role.ID
	}

	rules, err := v.store.GetContextRules(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	attrs := contextAttributes(pc)
	for _, rule := range rules {
		if !rule.Applies(resource, action) {
			continue
		}

		matched, err := v.rules.Matches(rule, userID, attrs)
		if err != nil {
			return nil, fmt.Errorf("context rule %d: %w", rule.ID, err)
		}
		if !matched {
			continue
		}

		if rule.Effect == EffectGrant {
			return &ValidationResult{Granted: true, Reason: ReasonContextGrant, AppliedRule: rule.String()}, nil
		}
		return &ValidationResult{Reason: ReasonContextDeny, AppliedRule: rule.String()}, nil
	}

	return nil, nil
}

// CheckRule validates a context rule, compiling expressions
func (v *Validator) CheckRule(rule ContextRule) error {
	return v.rules.Check(rule)
}

// GetUserPermissions returns the user's effective permission set, reading
// through the cache. Concurrent misses for one user share a single load.
func (v *Validator) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	perms, ok, err := v.cache.Get(ctx, userID)
	if err != nil {
		v.logger.WithError(err).WithField("user_id", userID).Warn("permission cache lookup failed")
	} else if ok {
		return perms, nil
	}

	epoch := v.epoch(userID)
	val, err, _ := v.group.Do(userID, func() (interface{}, error) {
		// The load is shared, so one caller's cancellation must not fail the rest
		loadCtx := context.WithoutCancel(ctx)

		perms, err := v.store.GetUserPermissions(loadCtx, userID)
		if err != nil {
			return nil, err
		}

		// An invalidation raced this load; the result may predate it
		if v.epoch(userID) != epoch {
			return perms, nil
		}
		if err := v.cache.Set(loadCtx, userID, perms); err != nil {
			v.logger.WithError(err).WithField("user_id", userID).Warn("failed to cache permissions")
		}
		return perms, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for user %s: %w", userID, err)
	}

	return append([]string(nil), val.([]string)...), nil
}

// ClearUserCache drops the user's cached permission set from every tier.
// It must be called whenever the user's roles or grants change.
func (v *Validator) ClearUserCache(ctx context.Context, userID string) error {
	e, _ := v.epochs.LoadOrStore(userID, new(atomic.Uint64))
	e.(*atomic.Uint64).Add(1)
	v.group.Forget(userID)

	err := v.cache.Invalidate(ctx, userID)
	if v.metrics != nil {
		v.metrics.RecordCacheInvalidation()
	}
	if err != nil {
		v.logger.WithError(err).WithField("user_id", userID).Error("failed to clear permission cache")
		return err
	}

	v.logger.WithField("user_id", userID).Debug("permission cache cleared")
	return nil
}

// epoch counts the clears of userID; a fill only caches its result when
// the count is unchanged since the load began
func (v *Validator) epoch(userID string) uint64 {
	if e, ok := v.epochs.Load(userID); ok {
		return e.(*atomic.Uint64).Load()
	}
	return 0
}

type grantMatch struct {
	rule   string
	reason string
	step   string
}

// teamLookup fetches the requester's team at most once per validation
type teamLookup struct {
	store  PermissionStore
	userID string
	done   bool
	teamID string
}

func (t *teamLookup) team(ctx context.Context) (string, error) {
	if !t.done {
		teamID, _, err := t.store.GetUserTeam(ctx, t.userID)
		if errors.Is(err, ErrUserNotFound) {
			err = nil
		}
		if err != nil {
			return "", err
		}
		t.teamID = teamID
		t.done = true
	}
	return t.teamID, nil
}

// matchGrant runs the direct, wildcard and scoped steps over one
// permission set
func matchGrant(ctx context.Context, set map[string]struct{}, userID, resource, action string, pc *PermissionContext, team *teamLookup) (*grantMatch, error) {
	direct := resource + ":" + action
	if _, ok := set[direct]; ok {
		return &grantMatch{rule: direct, reason: ReasonDirect, step: stepDirect}, nil
	}

	for _, candidate := range []string{
		Wildcard + ":" + Wildcard,
		resource + ":" + Wildcard,
		Wildcard + ":" + action,
	} {
		if _, ok := set[candidate]; ok {
			return &grantMatch{rule: candidate, reason: ReasonWildcard, step: stepWildcard}, nil
		}
	}

	all := Permission{Resource: resource, Action: action, Scope: ScopeAll}.String()
	if _, ok := set[all]; ok {
		return &grantMatch{rule: all, reason: ReasonScoped, step: stepScoped}, nil
	}

	if pc == nil {
		return nil, nil
	}

	own := Permission{Resource: resource, Action: action, Scope: ScopeOwn}.String()
	if _, ok := set[own]; ok && pc.ResourceOwner != "" && pc.ResourceOwner == userID {
		return &grantMatch{rule: own, reason: ReasonScoped, step: stepScoped}, nil
	}

	teamPerm := Permission{Resource: resource, Action: action, Scope: ScopeTeam}.String()
	if _, ok := set[teamPerm]; ok && pc.TeamID != "" {
		teamID, err := team.team(ctx)
		if err != nil {
			return nil, err
		}
		if teamID != "" && teamID == pc.TeamID {
			return &grantMatch{rule: teamPerm, reason: ReasonScoped, step: stepScoped}, nil
		}
	}

	return nil, nil
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

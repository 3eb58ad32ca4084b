// Package authzproject implements the Authorization Projector (spec.md
// §4.4): per-row ACL re-evaluation, field masking, and restrictedFields
// emission.
package authzproject

import (
	"context"

	"instanceresolver/internal/acl"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/model"
)

// Subject carries the identity flags the projector needs to recompute ACL
// targets for one row. The owner flag is not part of it: Project derives
// it per row from subjectID and the model's owner fields (isOwner).
type Subject struct {
	Authenticated  bool
	IsAdministrator bool
	AllowAnyAuthenticatedAdmin bool
}

// Projector applies one model's introspector and ACL evaluator across
// retrieved rows.
type Projector struct {
	Introspector *model.Introspector
	Evaluator    acl.Evaluator
}

// New constructs a Projector.
func New(ins *model.Introspector, evaluator acl.Evaluator) *Projector {
	return &Projector{Introspector: ins, Evaluator: evaluator}
}

// isOwner reports whether any declared owner field on inst equals
// subjectID (logical OR across owner fields, spec.md §9).
func isOwner(ins *model.Introspector, inst entity.Instance, subjectID string) bool {
	if subjectID == "" {
		return false
	}
	for _, el := range ins.Views.Owners {
		if v, _ := inst[el.JoinField].(string); v == subjectID {
			return true
		}
	}
	return false
}

// Project applies the read ACL to one retrieved row, returning the
// authorized projection (spec.md §4.4 steps 1-5). requestedFields is the
// top-level field set the caller asked for (used to compute
// restrictedFields); subjectID is the authenticated subject's id, if any.
func (p *Projector) Project(ctx context.Context, inst entity.Instance, requestedFields []string, subject Subject, subjectID string) entity.Instance {
	owner := isOwner(p.Introspector, inst, subjectID)
	targets := acl.DeriveTargets(subject.Authenticated, subject.IsAdministrator, owner, subject.AllowAnyAuthenticatedAdmin)

	match := p.Evaluator.Evaluate(ctx, targets, acl.ActionRead)

	if !match.Allow {
		return restrictedOnly(inst, requestedFields)
	}

	allowed := intersect(p.Introspector.AllowedReadFields(), match.AllowedFields)
	return projectAllowed(inst, requestedFields, allowed)
}

// restrictedOnly implements spec.md §4.4 step 3: a denied read returns
// just the id plus every requested field marked restricted.
func restrictedOnly(inst entity.Instance, requestedFields []string) entity.Instance {
	out := entity.Instance{"id": inst.ID()}
	var restricted []string
	for _, f := range requestedFields {
		if f != "id" {
			restricted = append(restricted, f)
		}
	}
	if len(restricted) > 0 {
		out["restrictedFields"] = restricted
	}
	return out
}

// projectAllowed implements spec.md §4.4 steps 4-5.
func projectAllowed(inst entity.Instance, requestedFields []string, allowed map[string]bool) entity.Instance {
	out := entity.Instance{
		"id":      inst.ID(),
		"created": inst.Created(),
		"updated": inst.Updated(),
	}
	if v, ok := inst["tasks"]; ok {
		out["tasks"] = v
	}

	var restricted []string
	for _, f := range requestedFields {
		switch f {
		case "id", "created", "updated", "tasks", "restrictedFields":
			continue
		}
		if !allowed[f] {
			restricted = append(restricted, f)
			continue
		}
		if v, present := inst[f]; present {
			out[f] = v
		}
	}

	if len(restricted) > 0 {
		out["restrictedFields"] = restricted
	}
	return out
}

// intersect computes allowedReadFields ∩ (matchFields or *) as a set
// (spec.md §4.4 step 4). A nil matchFields means "every allowed-read
// field".
func intersect(allowedReadFields []string, matchFields []string) map[string]bool {
	out := make(map[string]bool, len(allowedReadFields))
	if matchFields == nil {
		for _, f := range allowedReadFields {
			out[f] = true
		}
		return out
	}
	matchSet := make(map[string]bool, len(matchFields))
	for _, f := range matchFields {
		matchSet[f] = true
	}
	for _, f := range allowedReadFields {
		if matchSet[f] {
			out[f] = true
		}
	}
	return out
}

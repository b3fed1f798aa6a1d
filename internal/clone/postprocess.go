package clone

import (
	"context"
	"fmt"

	"idxform/internal/remap"
	"idxform/pkg/xid"
)

// RestoreFederationGuid reports whether an element's federationGuid should
// be copied verbatim from the source rather than regenerated, per
// spec.md §4.5: only when the transform's source and target are the same
// logical database (Config.WasSourceIModelCopiedToTarget).
func (c *Cloner) RestoreFederationGuid(sourceGuid string) (string, bool) {
	if !c.sameDB || sourceGuid == "" {
		return "", false
	}
	return sourceGuid, true
}

// CanonicalizeCode replaces an empty code (missing spec or scope) with the
// canonical empty code value, per spec.md §4.5.
func CanonicalizeCode(code xid.Code) xid.Code {
	if code.Empty() {
		return xid.CanonicalEmptyCode()
	}
	return code
}

// InvokeOnCloned runs the registered hook for a class, if any, before the
// hydrate UPDATE is bound, letting schema-specific checks inspect the
// cloned row or fail it; the hook cannot alter the bound values (spec.md
// §6's "onCloned hook").
func (c *Cloner) InvokeOnCloned(ctx context.Context, rc *remap.Context, classFQName, sourceJSON, targetJSON string) error {
	hook, ok := c.onCloned[classFQName]
	if !ok {
		return nil
	}
	if err := hook(ctx, rc, sourceJSON, targetJSON); err != nil {
		return fmt.Errorf("clone: %s: onCloned hook: %w", classFQName, err)
	}
	return nil
}

// ResolveCodeScope implements the scope half of spec.md §3's Code
// invariant: a repository-scoped code's target scope is pinned to the root
// subject id on an intra-database transform (c.sameDB); on an
// inter-database transform the original scope is preserved verbatim and
// flagged=true is returned so the caller can warn about it. A code whose
// spec isn't repository-scoped has an ordinary element-valued scope,
// remapped through rc like any other element reference.
func (c *Cloner) ResolveCodeScope(rc *remap.Context, repositoryScoped bool, sourceScope xid.Id) (target xid.Id, flagged bool) {
	if !sourceScope.Valid() {
		return xid.InvalidId, false
	}
	if repositoryScoped {
		if c.sameDB {
			return xid.RootSubjectId, false
		}
		return sourceScope, true
	}
	target, ok := rc.FindTargetElementId(sourceScope)
	if !ok {
		return xid.InvalidId, false
	}
	return target, false
}

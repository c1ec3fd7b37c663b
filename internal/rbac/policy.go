package rbac

import (
	"context"
	"strings"
)

// Policy answers whether a hub role holds a permission. Grants are either
// exact ("grades:send"), a family ("grades:*") or everything ("*").
type Policy struct {
	grants map[string]grant
}

type grant struct {
	all      bool
	exact    map[string]bool
	families []string
}

// NewPolicy compiles a role -> grants table; nil means RolePermissions.
func NewPolicy(table map[string][]string) *Policy {
	if table == nil {
		table = RolePermissions
	}
	p := &Policy{grants: make(map[string]grant, len(table))}
	for role, perms := range table {
		g := grant{exact: map[string]bool{}}
		for _, perm := range perms {
			switch {
			case perm == "*":
				g.all = true
			case strings.HasSuffix(perm, ":*"):
				g.families = append(g.families, strings.TrimSuffix(perm, "*"))
			default:
				g.exact[perm] = true
			}
		}
		p.grants[role] = g
	}
	return p
}

func (p *Policy) Allows(role, perm string) bool {
	g, ok := p.grants[role]
	if !ok {
		return false
	}
	if g.all || g.exact[perm] {
		return true
	}
	for _, fam := range g.families {
		if strings.HasPrefix(perm, fam) {
			return true
		}
	}
	return false
}

type roleKey struct{}

// WithRole stores the hub role of the caller.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

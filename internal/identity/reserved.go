package identity

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"chatrelay/pkg/interfaces"
)

// ReservedNames denies display names that impersonate the relay itself.
// Comparison ignores case and surrounding whitespace.
type ReservedNames struct {
	reserved map[string]struct{}
}

var _ interfaces.IdentityService = (*ReservedNames)(nil)

// NewReservedNames creates a service refusing the given names
func NewReservedNames(names []string) *ReservedNames {
	keys := lo.Compact(lo.Map(names, func(n string, _ int) string {
		return strings.ToLower(strings.TrimSpace(n))
	}))
	return &ReservedNames{
		reserved: lo.SliceToMap(keys, func(k string) (string, struct{}) {
			return k, struct{}{}
		}),
	}
}

// Authorize allows every name not on the reserved list. Trust is 1 for
// allowed names and 0 otherwise.
func (s *ReservedNames) Authorize(ctx context.Context, username string) (interfaces.Identity, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Identity{}, err
	}
	if _, reserved := s.reserved[strings.ToLower(strings.TrimSpace(username))]; reserved {
		return interfaces.Identity{Allowed: false, Reason: "reserved name"}, nil
	}
	return interfaces.Identity{Allowed: true, TrustScore: 1}, nil
}

// Len returns the number of reserved names
func (s *ReservedNames) Len() int {
	return len(s.reserved)
}

package audit

import "fmt"

// Visibility is what a role may see of the trail
type Visibility struct {
	AllBranches bool // false confines the caller to their own branch
	RawIP       bool // false exposes only the masked address
}

// Policy decides which roles may read the trail and how far
type Policy struct {
	adminRoles  map[string]bool
	branchRoles map[string]bool
}

// NewPolicy builds a policy from the configured role names
func NewPolicy(adminRoles, branchRoles []string) *Policy {
	p := &Policy{
		adminRoles:  make(map[string]bool, len(adminRoles)),
		branchRoles: make(map[string]bool, len(branchRoles)),
	}
	for _, r := range adminRoles {
		p.adminRoles[r] = true
	}
	for _, r := range branchRoles {
		p.branchRoles[r] = true
	}
	return p
}

// Visibility returns the visibility granted to role, or ErrForbidden
func (p *Policy) Visibility(role string) (Visibility, error) {
	switch {
	case p.adminRoles[role]:
		return Visibility{AllBranches: true, RawIP: true}, nil
	case p.branchRoles[role]:
		return Visibility{}, nil
	}
	return Visibility{}, fmt.Errorf("%w: role %q may not read audit logs", ErrForbidden, role)
}

// Scope narrows the requested branch filter to what caller may see. Admins get
// the request unchanged (nil meaning every branch); branch-scoped callers are
// always pinned to their own branch.
func (p *Policy) Scope(caller *Actor, requested *string) (*string, Visibility, error) {
	if caller == nil {
		return nil, Visibility{}, ErrUnauthorized
	}
	vis, err := p.Visibility(caller.Role)
	if err != nil {
		return nil, Visibility{}, err
	}
	if vis.AllBranches {
		return requested, vis, nil
	}
	if caller.BranchID == nil || *caller.BranchID == "" {
		return nil, Visibility{}, fmt.Errorf("%w: role %q requires a branch assignment", ErrForbidden, caller.Role)
	}
	branch := *caller.BranchID
	return &branch, vis, nil
}

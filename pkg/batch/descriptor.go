package batch

import (
	"fmt"
	"strings"
)

// Kind identifies a bulk operation type.
type Kind string

const (
	// KindCreateGroup creates a group; NaturalKey is the group path,
	// ParentRef the parent group (for subgroups).
	KindCreateGroup Kind = "create-group"

	// KindCreateProject creates a project; NaturalKey is the project
	// path, ParentRef the owning namespace.
	KindCreateProject Kind = "create-project"

	// KindAddMember adds a user to a group; NaturalKey is the user
	// identifier, ParentRef the group.
	KindAddMember Kind = "add-member"

	// KindUpdate updates a resource; NaturalKey is the resource path
	// relative to the API root, e.g. "groups/42".
	KindUpdate Kind = "update"

	// KindDelete deletes a resource; NaturalKey as for KindUpdate.
	KindDelete Kind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreateGroup, KindCreateProject, KindAddMember, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Creates reports whether k creates a new resource. Creating kinds are the
// ones short-circuited by the idempotency resolver on re-runs.
func (k Kind) Creates() bool {
	switch k {
	case KindCreateGroup, KindCreateProject, KindAddMember:
		return true
	}
	return false
}

// OperationDescriptor describes one item of a batch. The engine never
// mutates a descriptor; Payload is passed through to the remote opaquely.
type OperationDescriptor struct {
	Kind Kind `json:"kind"`

	// NaturalKey is the caller-meaningful identifier used to detect
	// whether the resource already exists (path under a parent, or a
	// user identifier).
	NaturalKey string `json:"natural_key"`

	// ParentRef names the parent container. It may reference either an
	// existing remote resource or the NaturalKey of another operation in
	// the same batch, in which case this item is dispatched only after
	// that operation succeeds.
	ParentRef string `json:"parent_ref,omitempty"`

	// Payload is the opaque resource record sent to the remote. Its
	// schema is an external concern.
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate checks a descriptor for setup errors before a job is created.
func (d OperationDescriptor) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", d.Kind)
	}
	if strings.TrimSpace(d.NaturalKey) == "" {
		return fmt.Errorf("%s: natural key is required", d.Kind)
	}
	if d.Kind == KindAddMember && d.ParentRef == "" {
		return fmt.Errorf("%s %s: parent ref is required", d.Kind, d.NaturalKey)
	}
	return nil
}

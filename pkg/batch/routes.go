package batch

import (
	"fmt"
	"net/http"
	"strconv"
)

// routeFor maps an operation to its remote call. Payloads pass through
// opaquely; only the identity fields the engine owns (path, parent linkage)
// are filled in when the caller left them out.
func routeFor(op OperationDescriptor, parentRef string) (method, path string, body any) {
	switch op.Kind {
	case KindCreateGroup:
		payload := clonePayload(op.Payload)
		fillIdentity(payload, op.NaturalKey)
		if parentRef != "" {
			payload["parent_id"] = refValue(parentRef)
		}
		return http.MethodPost, "/groups", payload

	case KindCreateProject:
		payload := clonePayload(op.Payload)
		fillIdentity(payload, op.NaturalKey)
		if parentRef != "" {
			payload["namespace_id"] = refValue(parentRef)
		}
		return http.MethodPost, "/projects", payload

	case KindAddMember:
		payload := clonePayload(op.Payload)
		if _, ok := payload["user_id"]; !ok {
			payload["user_id"] = refValue(op.NaturalKey)
		}
		return http.MethodPost, fmt.Sprintf("/groups/%s/members", parentRef), payload

	case KindUpdate:
		return http.MethodPut, "/" + op.NaturalKey, clonePayload(op.Payload)

	case KindDelete:
		return http.MethodDelete, "/" + op.NaturalKey, nil

	default:
		// Unreachable: descriptors are validated at submission.
		return "", "", nil
	}
}

// clonePayload copies a payload so the caller's descriptor stays untouched.
func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// fillIdentity sets the path/name identity fields from the natural key when
// the payload does not carry them already.
func fillIdentity(payload map[string]any, naturalKey string) {
	if _, ok := payload["path"]; !ok {
		payload["path"] = naturalKey
	}
	if _, ok := payload["name"]; !ok {
		payload["name"] = naturalKey
	}
}

// refValue renders a parent reference the way the remote expects it: numeric
// ids as numbers, everything else as-is.
func refValue(ref string) any {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id
	}
	return ref
}

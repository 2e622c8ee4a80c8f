package batch

import (
	"net/http"
	"reflect"
	"testing"
)

func TestRouteFor_CreateGroup(t *testing.T) {
	op := OperationDescriptor{
		Kind:       KindCreateGroup,
		NaturalKey: "infra",
		Payload:    map[string]any{"visibility": "private"},
	}

	method, path, body := routeFor(op, "42")
	if method != http.MethodPost || path != "/groups" {
		t.Errorf("route = %s %s, want POST /groups", method, path)
	}

	payload, ok := body.(map[string]any)
	if !ok {
		t.Fatalf("body = %T, want map payload", body)
	}
	want := map[string]any{
		"visibility": "private",
		"path":       "infra",
		"name":       "infra",
		"parent_id":  int64(42),
	}
	if !reflect.DeepEqual(payload, want) {
		t.Errorf("payload = %v, want %v", payload, want)
	}
	if len(op.Payload) != 1 {
		t.Error("routeFor must not mutate the descriptor's payload")
	}
}

func TestRouteFor_CreateGroupKeepsExplicitIdentity(t *testing.T) {
	op := OperationDescriptor{
		Kind:       KindCreateGroup,
		NaturalKey: "infra",
		Payload:    map[string]any{"name": "Infrastructure"},
	}

	_, _, body := routeFor(op, "")
	payload := body.(map[string]any)
	if payload["name"] != "Infrastructure" {
		t.Errorf("name = %v, an explicit payload name must win over the natural key", payload["name"])
	}
	if payload["path"] != "infra" {
		t.Errorf("path = %v, want filled from the natural key", payload["path"])
	}
	if _, ok := payload["parent_id"]; ok {
		t.Error("parent_id must be absent for a top-level group")
	}
}

func TestRouteFor_CreateProject(t *testing.T) {
	op := OperationDescriptor{Kind: KindCreateProject, NaturalKey: "api-server"}

	method, path, body := routeFor(op, "55")
	if method != http.MethodPost || path != "/projects" {
		t.Errorf("route = %s %s, want POST /projects", method, path)
	}
	payload := body.(map[string]any)
	if payload["namespace_id"] != int64(55) {
		t.Errorf("namespace_id = %v, want 55", payload["namespace_id"])
	}
}

func TestRouteFor_AddMember(t *testing.T) {
	op := OperationDescriptor{
		Kind:       KindAddMember,
		NaturalKey: "1001",
		ParentRef:  "42",
		Payload:    map[string]any{"access_level": 30},
	}

	method, path, body := routeFor(op, "42")
	if method != http.MethodPost || path != "/groups/42/members" {
		t.Errorf("route = %s %s, want POST /groups/42/members", method, path)
	}
	payload := body.(map[string]any)
	if payload["user_id"] != int64(1001) {
		t.Errorf("user_id = %v, want 1001 derived from the natural key", payload["user_id"])
	}
	if payload["access_level"] != 30 {
		t.Errorf("access_level = %v, want 30 passed through", payload["access_level"])
	}
}

func TestRouteFor_AddMemberKeepsExplicitUserID(t *testing.T) {
	op := OperationDescriptor{
		Kind:       KindAddMember,
		NaturalKey: "jdoe",
		ParentRef:  "42",
		Payload:    map[string]any{"user_id": 77},
	}

	_, _, body := routeFor(op, "42")
	payload := body.(map[string]any)
	if payload["user_id"] != 77 {
		t.Errorf("user_id = %v, an explicit payload user_id must win", payload["user_id"])
	}
}

func TestRouteFor_UpdateAndDelete(t *testing.T) {
	update := OperationDescriptor{
		Kind:       KindUpdate,
		NaturalKey: "groups/42",
		Payload:    map[string]any{"description": "updated"},
	}
	method, path, body := routeFor(update, "")
	if method != http.MethodPut || path != "/groups/42" {
		t.Errorf("update route = %s %s, want PUT /groups/42", method, path)
	}
	if body.(map[string]any)["description"] != "updated" {
		t.Error("update payload should pass through")
	}

	del := OperationDescriptor{Kind: KindDelete, NaturalKey: "projects/99"}
	method, path, body = routeFor(del, "")
	if method != http.MethodDelete || path != "/projects/99" {
		t.Errorf("delete route = %s %s, want DELETE /projects/99", method, path)
	}
	if body != nil {
		t.Errorf("delete body = %v, want nil", body)
	}
}

func TestRefValue(t *testing.T) {
	if got := refValue("42"); got != int64(42) {
		t.Errorf("refValue(42) = %v (%T), want int64", got, got)
	}
	if got := refValue("infra"); got != "infra" {
		t.Errorf("refValue(infra) = %v, want the string unchanged", got)
	}
}

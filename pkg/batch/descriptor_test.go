package batch

import (
	"testing"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range []Kind{KindCreateGroup, KindCreateProject, KindAddMember, KindUpdate, KindDelete} {
		if !k.Valid() {
			t.Errorf("Kind(%q).Valid() = false, want true", k)
		}
	}
	if Kind("rename").Valid() {
		t.Error(`Kind("rename").Valid() = true, want false`)
	}
}

func TestKind_Creates(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected bool
	}{
		{KindCreateGroup, true},
		{KindCreateProject, true},
		{KindAddMember, true},
		{KindUpdate, false},
		{KindDelete, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Creates(); got != tt.expected {
				t.Errorf("Creates() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOperationDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		op      OperationDescriptor
		wantErr bool
	}{
		{
			name:    "valid create group",
			op:      OperationDescriptor{Kind: KindCreateGroup, NaturalKey: "infra"},
			wantErr: false,
		},
		{
			name:    "valid add member",
			op:      OperationDescriptor{Kind: KindAddMember, NaturalKey: "1001", ParentRef: "infra"},
			wantErr: false,
		},
		{
			name:    "valid delete",
			op:      OperationDescriptor{Kind: KindDelete, NaturalKey: "groups/42"},
			wantErr: false,
		},
		{
			name:    "unknown kind",
			op:      OperationDescriptor{Kind: "rename", NaturalKey: "x"},
			wantErr: true,
		},
		{
			name:    "missing natural key",
			op:      OperationDescriptor{Kind: KindCreateProject},
			wantErr: true,
		},
		{
			name:    "blank natural key",
			op:      OperationDescriptor{Kind: KindCreateProject, NaturalKey: "   "},
			wantErr: true,
		},
		{
			name:    "add member without parent",
			op:      OperationDescriptor{Kind: KindAddMember, NaturalKey: "1001"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

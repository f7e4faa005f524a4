package inputval

import (
	"strings"
	"testing"
)

func TestIsValidObjectID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"507f1f77bcf86cd799439011", true},
		{" 507f1f77bcf86cd799439011 ", true},
		{"", false},
		{"root", false},
		{"507f1f77bcf86cd79943901", false},
		{"zzzf1f77bcf86cd799439011", false},
	}
	for _, tt := range tests {
		if got := IsValidObjectID(tt.id); got != tt.want {
			t.Errorf("IsValidObjectID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	type folderInput struct {
		Name     string `json:"name" validate:"required,max=10" label:"Name"`
		ParentID string `json:"parent_id" validate:"objectid" label:"Parent folder"`
	}

	tests := []struct {
		name      string
		input     folderInput
		wantField string
	}{
		{"valid", folderInput{Name: "Docs", ParentID: "507f1f77bcf86cd799439011"}, ""},
		{"missing name", folderInput{ParentID: "507f1f77bcf86cd799439011"}, "name"},
		{"name too long", folderInput{Name: strings.Repeat("a", 11), ParentID: "507f1f77bcf86cd799439011"}, "name"},
		{"bad parent", folderInput{Name: "Docs", ParentID: "nope"}, "parent_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.input)
			if tt.wantField == "" {
				if result.HasErrors() {
					t.Errorf("Validate() expected no errors, got: %s", result.First())
				}
				return
			}
			if _, ok := result.Fields()[tt.wantField]; !ok {
				t.Errorf("Fields() = %v, want an error for %q", result.Fields(), tt.wantField)
			}
		})
	}
}

func TestValidate_LabelsInMessages(t *testing.T) {
	type withLabel struct {
		FullName string `json:"full_name" validate:"required" label:"Full name"`
	}
	if got := Validate(withLabel{}).First(); got != "Full name is required." {
		t.Errorf("First() = %q, want label-based message", got)
	}

	type withoutLabel struct {
		Name string `validate:"required"`
	}
	if got := Validate(withoutLabel{}).First(); got != "Name is required." {
		t.Errorf("First() = %q, want field name message", got)
	}
}

func TestValidate_PointerAndNonStruct(t *testing.T) {
	type input struct {
		Name string `validate:"required" label:"Name"`
	}
	if res := Validate(&input{Name: "x"}); res.HasErrors() {
		t.Errorf("Validate(pointer) = %s", res.First())
	}
	if res := Validate("not a struct"); res == nil {
		t.Error("Validate(non-struct) should return a non-nil result")
	}
}

func TestResult(t *testing.T) {
	r := &Result{}
	if r.HasErrors() || r.First() != "" || len(r.Fields()) != 0 {
		t.Error("empty result should report nothing")
	}

	r = &Result{Errors: []FieldError{
		{Field: "name", Message: "Name is required."},
		{Field: "name", Message: "Name is invalid."},
		{Field: "parent_id", Message: "Parent folder is not a valid ID."},
	}}
	if !r.HasErrors() || r.First() != "Name is required." {
		t.Errorf("First() = %q", r.First())
	}
	fields := r.Fields()
	if len(fields) != 2 || fields["name"] != "Name is required." {
		t.Errorf("Fields() = %v, want first message per field", fields)
	}
}

package match

import "testing"

func TestCompile_Kinds(t *testing.T) {
	tests := []struct {
		pattern string
		want    Kind
	}{
		{"*", WildcardAll},
		{"documents", Exact},
		{"billing:*", Prefix},
		{"", Exact},
	}

	for _, tt := range tests {
		if got := Compile(tt.pattern).Kind(); got != tt.want {
			t.Errorf("Compile(%q).Kind() = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestMatcher_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"documents", "documents", true},
		{"documents", "document", false},
		{"documents", "Documents", false},
		{"billing:*", "billing:invoices", true},
		{"billing:*", "billing:", true},
		{"billing:*", "sales:invoices", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		if got := Compile(tt.pattern).Matches(tt.input); got != tt.want {
			t.Errorf("Compile(%q).Matches(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
	}
}

func TestAny(t *testing.T) {
	patterns := []string{"read", "write", "admin:*"}

	if !Any(patterns, "read") {
		t.Error("expected read to match")
	}
	if !Any(patterns, "admin:reset") {
		t.Error("expected admin:reset to match by prefix")
	}
	if Any(patterns, "delete") {
		t.Error("did not expect delete to match")
	}
	if Any(nil, "read") {
		t.Error("empty pattern set must match nothing")
	}
}

package config

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"sk-abcdefghijklmnop", "sk-a***********mnop"},
	}
	for _, c := range cases {
		if got := MaskSecret(c.in); got != c.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIntEnv(t *testing.T) {
	t.Setenv("X_INT", "7")
	if got := intEnv("X_INT", 1); got != 7 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("X_INT", "junk")
	if got := intEnv("X_INT", 1); got != 1 {
		t.Fatalf("bad value must keep default, got %d", got)
	}
	if got := intEnv("X_INT_UNSET", 3); got != 3 {
		t.Fatalf("got %d", got)
	}
}

func TestLoadTrackerConfig_FieldOverrides(t *testing.T) {
	t.Setenv("TRACKER_BASE_URL", "https://example.atlassian.net/")
	t.Setenv("TRACKER_FIELD_ACCEPTANCE_CRITERIA", "customfield_99999")
	t.Setenv("TRACKER_CHILD_DEPTH", "2")

	tc := loadTrackerConfig()
	if tc.BaseURL != "https://example.atlassian.net" {
		t.Fatalf("base url: %q", tc.BaseURL)
	}
	if tc.Fields.AcceptanceCriteria != "customfield_99999" {
		t.Fatalf("field map override lost: %+v", tc.Fields)
	}
	if tc.Fields.Sprint != "customfield_10020" {
		t.Fatalf("unset fields must keep defaults: %+v", tc.Fields)
	}
	if tc.ChildDepth != 2 {
		t.Fatalf("child depth: %d", tc.ChildDepth)
	}
}

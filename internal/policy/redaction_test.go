package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILocation(t *testing.T) {
	out, changed := RedactPII("I'm stuck near 40.71280, -74.00600 please hurry")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_LOCATION]") {
		t.Fatalf("output missing location marker: %q", out)
	}
	if strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("coordinates misread as phone: %q", out)
	}
}

func TestRedactPIIUnchanged(t *testing.T) {
	out, changed := RedactPII("I feel fine, just walking home")
	if changed {
		t.Fatalf("changed = true, want false: %q", out)
	}
}

package remote

import "testing"

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"/tmp/forge.abc123", "'/tmp/forge.abc123'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	got := inDir("/tmp/forge.abc", "tar cf - output/*")
	want := "cd '/tmp/forge.abc' && tar cf - output/*"
	if got != want {
		t.Fatalf("inDir = %q, want %q", got, want)
	}
}

package cli

import "testing"

func TestParseDescribe(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"tag", "v1.2.3\n", "1.2.3"},
		{"uppercase prefix", "V2.0.0\n", "2.0.0"},
		{"describe with commits", "v1.2.3-4-gdeadbee\n", "1.2.3-4-gdeadbee"},
		{"bare hash", "deadbee\n", "deadbee"},
		{"empty", "", ""},
		{"whitespace only", "\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDescribe(tt.out); got != tt.want {
				t.Fatalf("parseDescribe(%q) = %q, want %q", tt.out, got, tt.want)
			}
		})
	}
}

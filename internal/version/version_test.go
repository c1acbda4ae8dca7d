package version

import "testing"

func TestReleased(t *testing.T) {
	tests := []struct {
		v    string
		want bool
	}{
		{"", false},
		{"0.0.0", false},
		{"1.2.3-SNAPSHOT", false},
		{"1.2.3-dev", false},
		{"1.2.3-rc1", false},
		{"1.2.3-alpha.2", false},
		{"1.2.3-beta", false},
		{"1.2.3", true},
		{"v2.0.0", true},
		{"0.1.0", true},
	}
	for _, tt := range tests {
		if got := Released(tt.v); got != tt.want {
			t.Errorf("Released(%q) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

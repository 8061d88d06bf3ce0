package accounting

import "testing"

func TestCauseName(t *testing.T) {
	tests := []struct {
		code uint32
		want string
	}{
		{1, "User-Request"},
		{2, "Lost-Carrier"},
		{4, "Idle-Timeout"},
		{5, "Session-Timeout"},
		{6, "Admin-Reset"},
		{11, "NAS-Reboot"},
		{18, "Host-Request"},
		{99, "99"},
		{0, "0"},
	}
	for _, tt := range tests {
		if got := CauseName(tt.code); got != tt.want {
			t.Errorf("CauseName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

package version

import (
	"testing"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1       string
		v2       string
		expected int
	}{
		{"v1.0.542", "v1.0.533", 1},
		{"v1.0.533", "v1.0.542", -1},
		{"1.0.542", "1.0.542", 0},
		{"v1.0.542", "1.0.542", 0},
		{"v1.0.10", "v1.0.2", 1},
		{"v1.0.2", "v1.0.10", -1},
		{"dev", "v1.0.0", -1},
		{"v1.0.0", "dev", 1},
		{"v1.0.0-test.1", "v1.0.0", -1},
		{"v1.0.0", "v1.0.0-test.1", 1},
		{"2.29.7", "2.20.0", 1},
		{"2.20", "2.20.0", 0},
		{"2.19.1", "2.20.0", -1},
	}

	for _, tt := range tests {
		result := CompareVersions(tt.v1, tt.v2)
		if result != tt.expected {
			t.Errorf("CompareVersions(%s, %s) = %d; want %d", tt.v1, tt.v2, result, tt.expected)
		}
	}
}

func TestCheckComposeVersion(t *testing.T) {
	tests := []struct {
		installed string
		wantErr   bool
	}{
		{"2.29.7", false},
		{"v2.20.0", false},
		{"2.17.3", true},
		{"1.29.2", true},
		{"", true},
	}

	for _, tt := range tests {
		err := CheckComposeVersion(tt.installed)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckComposeVersion(%q) error = %v; wantErr %v", tt.installed, err, tt.wantErr)
		}
	}
}

func TestInfo_DevelopmentBuild(t *testing.T) {
	if got := Info(); got != "dev (development build)" {
		t.Errorf("Info() = %q", got)
	}
}

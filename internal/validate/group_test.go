package validate

import (
	"errors"
	"testing"
)

func mockLookupGroup(t *testing.T, fn func(string) error) {
	t.Helper()
	orig := lookupGroupFunc
	lookupGroupFunc = fn
	t.Cleanup(func() { lookupGroupFunc = orig })
}

func TestGroupName(t *testing.T) {
	existing := map[string]bool{"wheel": true, "video": true, "net_admin": true}
	mockLookupGroup(t, func(name string) error {
		if existing[name] {
			return nil
		}
		return errors.New("unknown group")
	})

	tests := []struct {
		name    string
		group   string
		wantErr bool
	}{
		{"existing", "wheel", false},
		{"existing with underscore", "net_admin", false},
		{"valid pattern but missing", "audio", true},
		{"hyphen rejected before lookup", "net-admin", true},
		{"empty", "", true},
		{"shell metacharacters", "wheel;rm", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := GroupName(tc.group)
			if (err != nil) != tc.wantErr {
				t.Errorf("GroupName(%q) = %v, wantErr=%v", tc.group, err, tc.wantErr)
			}
		})
	}
}

// Syntactically invalid names must be rejected without consulting the
// group database at all.
func TestGroupNameNoLookupOnBadSyntax(t *testing.T) {
	called := false
	mockLookupGroup(t, func(string) error {
		called = true
		return nil
	})

	if err := GroupName("bad;name"); err == nil {
		t.Fatal("expected error for invalid syntax")
	}
	if called {
		t.Error("group database consulted for syntactically invalid name")
	}
}

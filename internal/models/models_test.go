package models

import "testing"

func TestRole_IsPrivileged(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, false},
		{RoleMod, true},
		{RoleAdmin, true},
		{RoleOwner, true},
		{RoleBot, true},
		{RoleSystem, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			if got := tc.role.IsPrivileged(); got != tc.want {
				t.Errorf("IsPrivileged() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRole_IsModerator(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, false},
		{RoleBot, false},
		{RoleSystem, false},
		{RoleMod, true},
		{RoleAdmin, true},
		{RoleOwner, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			if got := tc.role.IsModerator(); got != tc.want {
				t.Errorf("IsModerator() = %v, want %v", got, tc.want)
			}
		})
	}
}

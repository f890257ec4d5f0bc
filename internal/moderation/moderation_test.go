package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/roguecord/hub/internal/models"
)

// These cases all fail before the Engine ever touches its store, so a
// store-less Engine exercises them safely.

func TestKick_RejectsUnprivilegedCaller(t *testing.T) {
	e := New(nil)
	caller := &models.User{ID: models.NewULID(), Role: models.RoleUser}
	_, err := e.Kick(context.Background(), caller, models.NewULID(), nil, models.DeleteNone, nil, false)
	if !errors.Is(err, ErrNotPrivileged) {
		t.Fatalf("err = %v, want ErrNotPrivileged", err)
	}
}

func TestKick_RejectsSelfTarget(t *testing.T) {
	e := New(nil)
	id := models.NewULID()
	caller := &models.User{ID: id, Role: models.RoleAdmin}
	_, err := e.Kick(context.Background(), caller, id, nil, models.DeleteNone, nil, false)
	if !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("err = %v, want ErrSelfTarget", err)
	}
}

func TestBan_RejectsWithNeitherBlacklistFlag(t *testing.T) {
	e := New(nil)
	caller := &models.User{ID: models.NewULID(), Role: models.RoleOwner}
	target := &models.User{ID: models.NewULID(), Role: models.RoleUser}
	_, err := e.Ban(context.Background(), caller, target, nil, models.DeleteNone, nil, false, false, nil, false)
	if !errors.Is(err, ErrBanNeedsTarget) {
		t.Fatalf("err = %v, want ErrBanNeedsTarget", err)
	}
}

func TestBan_RejectsBlacklistIPWithoutKnownAddress(t *testing.T) {
	e := New(nil)
	caller := &models.User{ID: models.NewULID(), Role: models.RoleMod}
	target := &models.User{ID: models.NewULID(), Role: models.RoleUser}
	_, err := e.Ban(context.Background(), caller, target, nil, models.DeleteNone, nil, false, true, nil, false)
	if !errors.Is(err, ErrBanNeedsTarget) {
		t.Fatalf("err = %v, want ErrBanNeedsTarget", err)
	}
}

func TestBan_RejectsUnprivilegedCallerBeforeBlacklistCheck(t *testing.T) {
	e := New(nil)
	caller := &models.User{ID: models.NewULID(), Role: models.RoleUser}
	target := &models.User{ID: models.NewULID(), Role: models.RoleUser}
	_, err := e.Ban(context.Background(), caller, target, nil, models.DeleteNone, nil, false, false, nil, false)
	if !errors.Is(err, ErrNotPrivileged) {
		t.Fatalf("err = %v, want ErrNotPrivileged", err)
	}
}

func TestModeratorRoles_CanIssueCommands(t *testing.T) {
	for _, r := range []models.Role{models.RoleMod, models.RoleAdmin, models.RoleOwner} {
		if !r.IsModerator() {
			t.Errorf("role %q expected to be a moderator role", r)
		}
	}
	for _, r := range []models.Role{models.RoleUser, models.RoleBot, models.RoleSystem} {
		if r.IsModerator() {
			t.Errorf("role %q unexpectedly treated as a moderator role", r)
		}
	}
}

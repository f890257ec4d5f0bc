package dal

import (
	"context"
	"errors"

	"github.com/roguecord/hub/internal/models"
)

// GetUserByPublicKey looks up a user by their stable ECDSA public key
//.
func (s *Store) GetUserByPublicKey(ctx context.Context, publicKey string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, public_key, avatar_url, last_ip, role, created_at
		FROM users WHERE public_key = $1
	`, publicKey)
	return scanUser(row)
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, id models.ULID) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, public_key, avatar_url, last_ip, role, created_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PublicKey, &u.AvatarURL, &u.LastIP, &u.Role, &u.CreatedAt); err != nil {
		return nil, wrapErr("scanUser", err)
	}
	return &u, nil
}

// GetOrCreateUser looks the user up by publicKey, creating one with the
// client-submitted username if none exists. Returns the user and whether
// it was newly created.
func (s *Store) GetOrCreateUser(ctx context.Context, username, publicKey string) (*models.User, bool, error) {
	existing, err := s.GetUserByPublicKey(ctx, publicKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, wrapErr("GetOrCreateUser.lookup", err)
	}

	id := models.NewULID()
	_, execErr := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, public_key, role, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (public_key) DO NOTHING
	`, id, username, publicKey, models.RoleUser)
	if execErr != nil {
		return nil, false, wrapErr("GetOrCreateUser.insert", execErr)
	}

	created, err := s.GetUserByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, false, wrapErr("GetOrCreateUser.reselect", err)
	}
	return created, created.ID == id, nil
}

// EnsureSystemUsers guarantees the two synthetic identities, "System" and
// "RSS Bot", exist, returning their ids.
func (s *Store) EnsureSystemUsers(ctx context.Context) (systemID, rssBotID models.ULID, err error) {
	systemID, err = s.ensureSyntheticUser(ctx, "System", "synthetic:system", models.RoleSystem)
	if err != nil {
		return
	}
	rssBotID, err = s.ensureSyntheticUser(ctx, "RSS Bot", "synthetic:rss-bot", models.RoleBot)
	return
}

func (s *Store) ensureSyntheticUser(ctx context.Context, username, publicKey string, role models.Role) (models.ULID, error) {
	existing, err := s.GetUserByPublicKey(ctx, publicKey)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.ULID{}, wrapErr("ensureSyntheticUser.lookup", err)
	}

	id := models.NewULID()
	_, execErr := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, public_key, role, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (public_key) DO NOTHING
	`, id, username, publicKey, role)
	if execErr != nil {
		return models.ULID{}, wrapErr("ensureSyntheticUser.insert", execErr)
	}
	return id, nil
}

// UpdateLastIP records the remote address observed at successful auth
//.
func (s *Store) UpdateLastIP(ctx context.Context, userID models.ULID, ip string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_ip = $1 WHERE id = $2`, ip, userID)
	return wrapErr("UpdateLastIP", err)
}

// SetRole elevates or changes a user's role.
func (s *Store) SetRole(ctx context.Context, userID models.ULID, role models.Role) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, userID)
	return wrapErr("SetRole", err)
}

// ListUsers returns the full member roster, used to build member_list at
// auth time.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, public_key, avatar_url, last_ip, role, created_at
		FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, wrapErr("ListUsers", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, wrapErr("ListUsers.rows", rows.Err())
}

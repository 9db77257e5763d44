package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetUserInfo fetches a user's profile, if one has been recorded.
func (s *Store) GetUserInfo(ctx context.Context, user string) (UserInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT "user", name, location, timezone, date_of_birth FROM user_info WHERE "user" = $1`, user)
	var u UserInfo
	err := row.Scan(&u.User, &u.Name, &u.Location, &u.Timezone, &u.DOB)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserInfo{}, ErrNotFound
	}
	return u, err
}

// UpsertUserInfo creates or updates a user's profile row.
func (s *Store) UpsertUserInfo(ctx context.Context, u UserInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_info ("user", name, location, timezone, date_of_birth)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT ("user") DO UPDATE SET name = EXCLUDED.name, location = EXCLUDED.location,
			timezone = EXCLUDED.timezone, date_of_birth = EXCLUDED.date_of_birth`,
		u.User, u.Name, u.Location, u.Timezone, u.DOB)
	return err
}

// SetUserTimezone updates just the timezone field, creating the profile
// row if absent.
func (s *Store) SetUserTimezone(ctx context.Context, user, timezone string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_info ("user", timezone) VALUES ($1,$2)
		ON CONFLICT ("user") DO UPDATE SET timezone = EXCLUDED.timezone`, user, timezone)
	return err
}

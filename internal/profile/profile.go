// Package profile derives a user's IANA timezone from a free-text location
// string, the one piece of original_source's profile command surface
// spec.md's UserInfo entity still needs (spec.md §3 "Timezone derived from
// location on write"). Grounded on
// original_source/penny/penny/commands/profile.py's get_timezone call,
// reimplemented against a static lookup rather than a geocoding API — no
// geocoding key is named in spec.md §6's external interface list (recorded
// as an Open Question in DESIGN.md).
package profile

import (
	"context"
	"strings"
	"time"

	"github.com/jaredlockhart/penny/internal/store"
)

// DefaultTimezone is used when a location cannot be resolved.
const DefaultTimezone = "UTC"

// cityTimezones is a small static lookup of well-known city/region names to
// IANA timezone identifiers, standing in for the original's geocoding call.
var cityTimezones = map[string]string{
	"seattle":       "America/Los_Angeles",
	"san francisco": "America/Los_Angeles",
	"los angeles":   "America/Los_Angeles",
	"portland":      "America/Los_Angeles",
	"vancouver":     "America/Vancouver",
	"denver":        "America/Denver",
	"phoenix":       "America/Phoenix",
	"chicago":       "America/Chicago",
	"austin":        "America/Chicago",
	"dallas":        "America/Chicago",
	"houston":       "America/Chicago",
	"new york":      "America/New_York",
	"nyc":           "America/New_York",
	"boston":        "America/New_York",
	"toronto":       "America/Toronto",
	"atlanta":       "America/New_York",
	"miami":         "America/New_York",
	"washington":    "America/New_York",
	"london":        "Europe/London",
	"dublin":        "Europe/Dublin",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"madrid":        "Europe/Madrid",
	"rome":          "Europe/Rome",
	"amsterdam":     "Europe/Amsterdam",
	"zurich":        "Europe/Zurich",
	"stockholm":     "Europe/Stockholm",
	"moscow":        "Europe/Moscow",
	"dubai":         "Asia/Dubai",
	"mumbai":        "Asia/Kolkata",
	"delhi":         "Asia/Kolkata",
	"bangalore":     "Asia/Kolkata",
	"singapore":     "Asia/Singapore",
	"hong kong":     "Asia/Hong_Kong",
	"shanghai":      "Asia/Shanghai",
	"beijing":       "Asia/Shanghai",
	"tokyo":         "Asia/Tokyo",
	"seoul":         "Asia/Seoul",
	"sydney":        "Australia/Sydney",
	"melbourne":     "Australia/Melbourne",
	"auckland":      "Pacific/Auckland",
	"sao paulo":     "America/Sao_Paulo",
	"mexico city":   "America/Mexico_City",
}

// ResolveTimezone looks up the IANA timezone for a free-text location by
// matching any known city name as a substring (so "Seattle, WA" and
// "downtown Seattle" both resolve). Falls back to DefaultTimezone when no
// entry matches or the resolved zone fails to load.
func ResolveTimezone(location string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(location))
	if needle == "" {
		return DefaultTimezone, nil
	}

	for city, tz := range cityTimezones {
		if strings.Contains(needle, city) {
			if _, err := time.LoadLocation(tz); err != nil {
				continue
			}
			return tz, nil
		}
	}

	return DefaultTimezone, nil
}

// UpdateLocation resolves location to a timezone and persists both on the
// user's profile row in one step, the write path spec.md §3's UserInfo
// invariant ("Timezone derived from location on write") describes.
func UpdateLocation(ctx context.Context, st *store.Store, user, location string) (string, error) {
	tz, err := ResolveTimezone(location)
	if err != nil {
		return "", err
	}

	info, err := st.GetUserInfo(ctx, user)
	if err != nil && err != store.ErrNotFound {
		return "", err
	}
	info.User = user
	info.Location = location
	info.Timezone = tz

	if err := st.UpsertUserInfo(ctx, info); err != nil {
		return "", err
	}
	return tz, nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

// resolvedLocation holds the result of location resolution.
type resolvedLocation struct {
	Coords   geo.Coordinates
	City     string
	Country  string
	Timezone string // optional hint from geo-detection
}

// detectLocation is a variable so tests can avoid the network.
var detectLocation = geo.DetectLocation

// resolveLocation determines the effective location.
// Priority: CLI flags / config > cached geolocation > IP auto-detect.
func resolveLocation(ctx context.Context, cfg *config.Config) (resolvedLocation, error) {
	if cfg.HasCoordinates() {
		coords := geo.Coordinates{Lat: cfg.Latitude, Lng: cfg.Longitude}
		if err := coords.Validate(); err != nil {
			return resolvedLocation{}, err
		}
		return resolvedLocation{Coords: coords}, nil
	}

	dir := cfg.CacheDir
	if dir == "" {
		d, err := cache.DefaultDir()
		if err != nil {
			return resolvedLocation{}, err
		}
		dir = d
	}
	lf := cache.NewLocationFile(dir)

	if cached := lf.Load(); cached != nil {
		return fromDetected(cached), nil
	}

	detected, err := detectLocation(ctx)
	if err != nil {
		return resolvedLocation{}, fmt.Errorf("no location specified and auto-detection failed: %w", err)
	}
	if err := lf.Save(detected); err != nil {
		warnf("could not cache detected location: %v", err)
	}
	return fromDetected(detected), nil
}

func fromDetected(l *geo.Location) resolvedLocation {
	return resolvedLocation{
		Coords:   l.Coordinates(),
		City:     l.City,
		Country:  l.Country,
		Timezone: l.Timezone,
	}
}

// buildLocationStr builds a "City, Country" string, falling back to
// coordinates.
func buildLocationStr(loc resolvedLocation) string {
	if loc.City != "" && loc.Country != "" {
		return loc.City + ", " + loc.Country
	}
	return fmt.Sprintf("%.4f, %.4f", loc.Coords.Lat, loc.Coords.Lng)
}

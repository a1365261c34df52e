package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/woozymasta/lmstats/internal/models"
)

// Report field limits.
const (
	IDLength          = 27
	MaxNameLength     = 100
	MaxShortLength    = 50
	MaxLanguageLength = 5
	MaxPlugins        = 250
	MaxPluginLength   = 50
	MaxPlayerTypes    = 20
	MaxPlayerModels   = 50
)

var versionPattern = regexp.MustCompile(`^\d{1,2}\.\d{1,3}\.\d{1,3}$`)

// ValidationError names the first report field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a report against the field limits and converts it to the stored document.
// Country is left for the caller to fill.
func Validate(id string, r models.InstanceReport) (models.InstallationData, error) {
	if len(id) != IDLength {
		return models.InstallationData{}, invalid("id", "length %d, want %d", len(id), IDLength)
	}

	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"revision", r.Revision, MaxNameLength},
		{"os", r.OS, MaxNameLength},
		{"osname", r.OSName, MaxNameLength},
		{"platform", r.Platform, MaxShortLength},
		{"perl", r.Perl, MaxShortLength},
		{"skin", r.Skin, MaxShortLength},
		{"language", r.Language, MaxLanguageLength},
	} {
		if len(f.value) > f.max {
			return models.InstallationData{}, invalid(f.name, "length %d exceeds %d", len(f.value), f.max)
		}
	}

	if r.Version != "" && !versionPattern.MatchString(r.Version) {
		return models.InstallationData{}, invalid("version", "%q is not x.y.z", r.Version)
	}

	if len(r.Plugins) > MaxPlugins {
		return models.InstallationData{}, invalid("plugins", "%d entries exceed %d", len(r.Plugins), MaxPlugins)
	}
	for _, p := range r.Plugins {
		if len(p) > MaxPluginLength {
			return models.InstallationData{}, invalid("plugins", "name %q exceeds %d", p, MaxPluginLength)
		}
	}

	if len(r.PlayerTypes) > MaxPlayerTypes {
		return models.InstallationData{}, invalid("playerTypes", "%d entries exceed %d", len(r.PlayerTypes), MaxPlayerTypes)
	}
	if len(r.PlayerModels) > MaxPlayerModels {
		return models.InstallationData{}, invalid("playerModels", "%d entries exceed %d", len(r.PlayerModels), MaxPlayerModels)
	}

	players, err := count(r.Players)
	if err != nil {
		return models.InstallationData{}, invalid("players", "%v", err)
	}
	tracks, err := count(r.Tracks)
	if err != nil {
		return models.InstallationData{}, invalid("tracks", "%v", err)
	}

	return models.InstallationData{
		OS:           r.OS,
		OSName:       r.OSName,
		Platform:     r.Platform,
		Version:      r.Version,
		Revision:     r.Revision,
		Perl:         r.Perl,
		Players:      players,
		PlayerTypes:  playerCounts(r.PlayerTypes),
		PlayerModels: playerCounts(r.PlayerModels),
		Plugins:      r.Plugins,
		Skin:         r.Skin,
		Language:     r.Language,
		Tracks:       tracks,
	}, nil
}

// count parses a non-negative integral number; an absent value is zero.
func count(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}

	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", n)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("%q is not a count", n)
	}

	return int64(f), nil
}

// playerCounts keeps the entries of a player map whose value is a count.
// Strings, fractions and negative numbers are dropped; nil is returned when nothing is left.
func playerCounts(raw map[string]json.RawMessage) map[string]int64 {
	var out map[string]int64
	for token, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 {
			continue
		}
		n, err := count(json.Number(v))
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string]int64, len(raw))
		}
		out[token] = n
	}

	return out
}

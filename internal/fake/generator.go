// Package fake generates random installations for local development of the dashboard.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/ingest"
	"github.com/woozymasta/lmstats/internal/models"
)

// Store receives the generated installations.
type Store interface {
	UpsertInstallation(ctx context.Context, inst models.Installation) error
}

type osChoice struct {
	os       string
	osname   string
	platform string
}

var (
	systems = []osChoice{
		{"Debian", "Debian GNU/Linux 12 (bookworm)", "x86_64-linux"},
		{"Debian", "Debian 12 (Docker)", "x86_64-linux"},
		{"Debian", "Debian 12 (Docker)", "aarch64-linux"},
		{"Debian", "Raspbian GNU/Linux 11 (bullseye)", "aarch64-linux"},
		{"Windows", "Windows 10 (64-bit)", "MSWin32-x64-multi-thread"},
		{"Windows", "Windows 11 (64-bit)", "MSWin32-x64-multi-thread"},
		{"Mac", "macOS 14.2 (23C64)", "darwin-thread-multi-2level"},
		{"Linux", "Linux", "x86_64-linux"},
		{"Linux", "QLMS 8.x (QNAP TurboStation)", "x86_64-linux"},
	}
	versions     = []string{"8.3.1", "8.4.0", "8.5.2", "9.0.0", "9.0.1"}
	perls        = []string{"5.32.1", "5.34.0", "5.36.0", "5.38.2"}
	languages    = []string{"EN", "DE", "FR", "NL", "IT", "SV", "DA", "ES"}
	skins        = []string{"Material", "Default", "Classic"}
	playerTokens = []string{"squeezelite", "baby", "boom", "fab4", "receiver", "squeezebox3", "SqueezePlay", "WiiM Pro", "piCorePlayer", "RHEOS: Denon Home"}
	plugins      = []string{
		"MaterialSkin", "Spotty", "Qobuz", "TIDAL", "DeezerPod", "Podcast", "YouTube",
		"LastMix", "DontStopTheMusic", "RadioParadise", "BBCSounds", "UPnPBridge",
		"CastBridge", "AirPlay", "MQALink", "PlayHistory", "SqueezeDSP",
	}
)

// GenerateData stores count random installations seen within the last 60 days.
// A zero seed picks a random one.
func GenerateData(ctx context.Context, store Store, count int, seed uint64) (int, error) {
	f := gofakeit.New(seed)
	now := time.Now().UTC()

	stored := 0
	for range count {
		lastSeen := f.DateRange(now.Add(-60*24*time.Hour), now)
		inst := models.Installation{
			ID:       f.LetterN(ingest.IDLength),
			Created:  lastSeen.Add(-time.Duration(f.IntRange(0, 365*24)) * time.Hour),
			LastSeen: lastSeen,
			Data:     installationData(f),
		}

		if err := store.UpsertInstallation(ctx, inst); err != nil {
			return stored, fmt.Errorf("store fake installation: %w", err)
		}
		stored++
	}

	log.Info().Int("count", stored).Msg("Fake installations generated")

	return stored, nil
}

func installationData(f *gofakeit.Faker) models.InstallationData {
	sys := systems[f.IntRange(0, len(systems)-1)]
	data := models.InstallationData{
		OS:       sys.os,
		OSName:   sys.osname,
		Platform: sys.platform,
		Version:  f.RandomString(versions),
		Revision: strconv.Itoa(f.IntRange(1600000000, 1760000000)),
		Perl:     f.RandomString(perls),
		Country:  f.CountryAbr(),
		Skin:     f.RandomString(skins),
		Language: f.RandomString(languages),
	}

	// Some installations never scanned a library or have no player connected.
	if f.Float32() < 0.9 {
		data.Tracks = int64(f.IntRange(1, 250000))
	}

	players := f.IntRange(0, 6)
	if players > 0 {
		data.Players = int64(players)
		data.PlayerTypes = make(map[string]int64)
		for range players {
			data.PlayerTypes[f.RandomString(playerTokens)]++
		}
	}

	for _, p := range plugins {
		if f.Float32() < 0.3 {
			data.Plugins = append(data.Plugins, p)
		}
	}

	return data
}

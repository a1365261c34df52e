// Package ingest validates instance reports and stores them as sparse installation documents.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/models"
)

// SuspectVersions maps versions known to over-report players on first contact to
// the largest believable jump in player count between two reports.
var SuspectVersions = map[string]int64{
	"9.0.0": 3,
}

// Store is the installation storage used by the Ingester.
type Store interface {
	GetInstallation(ctx context.Context, id string) (*models.Installation, error)
	UpsertInstallation(ctx context.Context, inst models.Installation) error
}

// Ingester writes reports to the store.
type Ingester struct {
	store   Store
	now     func() time.Time
	suspect map[string]int64
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithClock overrides the time source for created/lastseen.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

// WithSuspectVersions replaces the SuspectVersions table.
func WithSuspectVersions(versions map[string]int64) Option {
	return func(i *Ingester) { i.suspect = versions }
}

// New returns an Ingester over store.
func New(store Store, opts ...Option) *Ingester {
	i := &Ingester{
		store:   store,
		now:     time.Now,
		suspect: SuspectVersions,
	}
	for _, o := range opts {
		o(i)
	}

	return i
}

// Ingest upserts the installation id with data. The first report sets created,
// every report advances lastseen and replaces the document.
//
// Player counts are not always taken as reported: a report of zero players keeps
// the previous players, playerTypes and playerModels, and a report from a suspect
// version that jumps above the previous count by more than the allowed delta keeps
// the previous values too.
func (i *Ingester) Ingest(ctx context.Context, id string, data models.InstallationData) error {
	if data.Players == 0 || i.isSuspect(data) {
		prev, err := i.store.GetInstallation(ctx, id)
		if err != nil {
			return fmt.Errorf("load installation %s: %w", id, err)
		}
		if prev != nil {
			data = i.carryPlayers(data, prev.Data)
		}
	}

	now := i.now()
	inst := models.Installation{
		ID:       id,
		Created:  now,
		LastSeen: now,
		Data:     data,
	}

	if err := i.store.UpsertInstallation(ctx, inst); err != nil {
		return fmt.Errorf("store installation %s: %w", id, err)
	}

	return nil
}

func (i *Ingester) isSuspect(data models.InstallationData) bool {
	delta, ok := i.suspect[data.Version]
	return ok && data.Players > delta
}

// carryPlayers restores player fields from prev when the new report cannot be trusted.
func (i *Ingester) carryPlayers(data, prev models.InstallationData) models.InstallationData {
	if data.Players != 0 {
		delta := i.suspect[data.Version]
		if prev.Players == 0 || data.Players-prev.Players <= delta {
			return data
		}

		log.Debug().
			Str("version", data.Version).
			Int64("reported", data.Players).
			Int64("previous", prev.Players).
			Msg("Suspicious player jump, keeping previous players")
	}

	data.Players = prev.Players
	if prev.PlayerTypes != nil {
		data.PlayerTypes = prev.PlayerTypes
	}
	if prev.PlayerModels != nil {
		data.PlayerModels = prev.PlayerModels
	}

	return data
}

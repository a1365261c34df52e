// Package models defines the data structures used for API requests and database persistence.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// InstallationData is the sparse document stored per installation.
// Empty strings, maps and lists are omitted so absence means unknown.
// Players and tracks are always stored; a report without them counts as 0.
type InstallationData struct {
	OS           string           `json:"os,omitempty"`
	OSName       string           `json:"osname,omitempty"`
	Platform     string           `json:"platform,omitempty"`
	Version      string           `json:"version,omitempty"`
	Revision     string           `json:"revision,omitempty"`
	Perl         string           `json:"perl,omitempty"`
	Players      int64            `json:"players"`
	PlayerTypes  map[string]int64 `json:"playerTypes,omitempty"`
	PlayerModels map[string]int64 `json:"playerModels,omitempty"`
	Plugins      []string         `json:"plugins,omitempty"`
	Country      string           `json:"country,omitempty"`
	Skin         string           `json:"skin,omitempty"`
	Language     string           `json:"language,omitempty"`
	Tracks       int64            `json:"tracks"`
}

// InstanceReport is the body of an instance report as sent by the media server.
// Numbers are kept raw so non-integer counts can be rejected and
// non-integer player map entries dropped.
type InstanceReport struct {
	OS           string                     `json:"os"`
	OSName       string                     `json:"osname"`
	Platform     string                     `json:"platform"`
	Version      string                     `json:"version"`
	Revision     string                     `json:"revision"`
	Perl         string                     `json:"perl"`
	Players      json.Number                `json:"players"`
	PlayerTypes  map[string]json.RawMessage `json:"playerTypes"`
	PlayerModels map[string]json.RawMessage `json:"playerModels"`
	Plugins      []string                   `json:"plugins"`
	Skin         string                     `json:"skin"`
	Language     string                     `json:"language"`
	Tracks       json.Number                `json:"tracks"`
}

// Installation is one reporting media server.
type Installation struct {
	Created  time.Time        `json:"created"`
	LastSeen time.Time        `json:"lastseen"`
	ID       string           `json:"id"`
	Data     InstallationData `json:"data"`
}

// Snapshot is one daily frozen aggregate row.
type Snapshot struct {
	Date string          `db:"date" json:"date"`
	Data json.RawMessage `db:"data" json:"data"`
}

// SnapshotData is the document stored in a snapshot row.
type SnapshotData struct {
	ConnectedPlayers ValueCounts `json:"connectedPlayers"`
	Countries        ValueCounts `json:"countries"`
	OS               ValueCounts `json:"os"`
	Players          int64       `json:"players"`
	PlayerTypes      ValueCounts `json:"playerTypes"`
	PlayerModels     ValueCounts `json:"playerModels"`
	Plugins          ValueCounts `json:"plugins"`
	Tracks           ValueCounts `json:"tracks"`
	Versions         ValueCounts `json:"versions"`
}

// HistoryPoint is one point of the history chart.
type HistoryPoint struct {
	Date        string          `json:"d"`
	OS          json.RawMessage `json:"o"`
	Versions    json.RawMessage `json:"v"`
	Players     *int64          `json:"p"`
	PlayerTypes json.RawMessage `json:"t"`
}

// PluginCount is one row of the precomputed plugin census.
type PluginCount struct {
	Name  string `db:"name" json:"name"`
	Count int64  `db:"count" json:"count"`
}

// ValueCount is one category with its installation count.
type ValueCount struct {
	Value string
	Count int64
}

// ValueCounts is a ranked list of categories.
// It serializes as a list of single-entry objects: [{"8.5.2": 120}, ...].
type ValueCounts []ValueCount

// MarshalJSON keeps the rank order, which a JSON object would not.
func (vc ValueCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range vc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Value)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(item.Count, 10))
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads the list form written by MarshalJSON.
func (vc *ValueCounts) UnmarshalJSON(data []byte) error {
	var raw []map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(ValueCounts, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return fmt.Errorf("entry %d: expected one key, got %d", i, len(entry))
		}
		for k, v := range entry {
			out = append(out, ValueCount{Value: k, Count: v})
		}
	}
	*vc = out

	return nil
}

package models

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCountsKeepOrder(t *testing.T) {
	vc := ValueCounts{{Value: "9.0.0", Count: 12}, {Value: "10.0.0", Count: 40}, {Value: `we"ird`, Count: 1}}

	b, err := json.Marshal(vc)
	require.NoError(t, err)
	assert.Equal(t, `[{"9.0.0":12},{"10.0.0":40},{"we\"ird":1}]`, string(b))
}

func TestValueCountsEmpty(t *testing.T) {
	b, err := json.Marshal(ValueCounts{})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(b))
}

func TestValueCountsUnmarshalRejectsMultiKey(t *testing.T) {
	var vc ValueCounts
	assert.Error(t, json.Unmarshal([]byte(`[{"a":1,"b":2}]`), &vc))
}

func TestInstallationDataKeepsCounts(t *testing.T) {
	b, err := json.Marshal(InstallationData{Version: "9.0.0", Players: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"9.0.0","players":0,"tracks":0}`, string(b), "counts are kept at zero")
}

func TestHistoryPointShape(t *testing.T) {
	players := int64(4)
	b, err := json.Marshal(HistoryPoint{Date: "2026-03-01", Versions: json.RawMessage(`[{"9.0.0":1}]`), Players: &players})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2026-03-01","o":null,"v":[{"9.0.0":1}],"p":4,"t":null}`, string(b))

	typ := reflect.TypeOf(HistoryPoint{})
	for i := range typ.NumField() {
		assert.Empty(t, typ.Field(i).Tag.Get("db"), "history points are built in Go, not scanned")
	}
}

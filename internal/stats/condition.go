package stats

import (
	"fmt"
	"strings"
)

// Dimension is a field an aggregation can be filtered on.
type Dimension string

// Filterable dimensions. The ingress layer validates values per dimension.
const (
	DimensionOS      Dimension = "os"
	DimensionOSName  Dimension = "osname"
	DimensionVersion Dimension = "version"
	DimensionCountry Dimension = "country"
)

// Dimensions lists the allow-list in the order query parameters are read.
var Dimensions = []Dimension{DimensionOS, DimensionOSName, DimensionVersion, DimensionCountry}

// Filter is one exact-match restriction.
type Filter struct {
	Dimension Dimension
	Value     string
}

// Condition is a WHERE clause with its positional arguments.
type Condition struct {
	SQL  string
	Args []any
}

// BuildCondition renders the window and filters into a WHERE clause.
// The window term is always first and always binds secs, so secs <= 0 yields
// the tautology "1 > secs". notNull names a document field that must be present.
func BuildCondition(secs int64, filters []Filter, notNull string) (Condition, error) {
	var sb strings.Builder
	args := make([]any, 0, len(filters)+1)

	if secs > 0 {
		sb.WriteString("WHERE unixepoch('now') - unixepoch(lastseen) < ?")
	} else {
		sb.WriteString("WHERE 1 > ?")
	}
	args = append(args, secs)

	for _, f := range filters {
		if !allowedDimension(f.Dimension) {
			return Condition{}, fmt.Errorf("%w: %q", ErrInvalidFilter, f.Dimension)
		}
		sb.WriteString(" AND json_extract(data, '$.")
		sb.WriteString(string(f.Dimension))
		sb.WriteString("') = ?")
		args = append(args, f.Value)
	}

	if notNull != "" {
		sb.WriteString(" AND json_extract(data, '$.")
		sb.WriteString(notNull)
		sb.WriteString("') IS NOT NULL")
	}

	return Condition{SQL: sb.String(), Args: args}, nil
}

func allowedDimension(d Dimension) bool {
	for _, allowed := range Dimensions {
		if d == allowed {
			return true
		}
	}

	return false
}

// filterValue returns the value of the first filter on d.
func filterValue(filters []Filter, d Dimension) (string, bool) {
	for _, f := range filters {
		if f.Dimension == d {
			return f.Value, true
		}
	}

	return "", false
}

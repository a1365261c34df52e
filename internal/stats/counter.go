package stats

import (
	"sort"

	"github.com/woozymasta/lmstats/internal/models"
)

// counter sums counts per category for in-memory regrouping.
type counter map[string]int64

func newCounter() counter {
	return make(counter)
}

func (c counter) add(key string, n int64) {
	c[key] += n
}

// ranked returns categories by descending count; ties are ordered by name
// so the output is reproducible.
func (c counter) ranked() models.ValueCounts {
	out := make(models.ValueCounts, 0, len(c))
	for k, v := range c {
		out = append(out, models.ValueCount{Value: k, Count: v})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})

	return out
}

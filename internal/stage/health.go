package stage

import (
	"fmt"
	"sort"
)

// Health is the readiness of one stage handler, keyed by the task type it
// executes.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a not-ready Health record with detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

func (h Health) String() string {
	if h.Ready {
		return h.Name + ": ready"
	}
	if h.Detail == "" {
		return h.Name + ": not ready"
	}
	return fmt.Sprintf("%s: %s", h.Name, h.Detail)
}

// NotReady returns the records that are not ready, ordered by name. Tasks of
// those types fail until the cause is fixed.
func NotReady(records map[string]Health) []Health {
	var out []Health
	for _, h := range records {
		if !h.Ready {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

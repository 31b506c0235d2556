package inspector

import (
	"fmt"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// Skipped describes a type entry that could not be inspected.
type Skipped struct {
	Type   string `json:"type,omitempty"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Report is the outcome of inspecting one module.
type Report struct {
	Module  string              `json:"module"`
	Records []capability.Record `json:"records"`
	Skipped []Skipped           `json:"skipped,omitempty"`
}

// Inspect enumerates the module's exported types in order and emits one record per
// (type, capability) pair. Every record carries its own copy of the type's metadata.
// Invalid entries are reported as skipped rather than failing the whole module.
func Inspect(source string, m *capability.Module) Report {
	report := Report{Records: []capability.Record{}}
	if m == nil {
		return report
	}
	report.Module = m.Name

	seen := make(map[string]int, len(m.Types))
	for i, t := range m.Types {
		if err := t.Validate(); err != nil {
			report.Skipped = append(report.Skipped, skipped(t, i, err.Error()))
			continue
		}
		if first, dup := seen[t.Name]; dup {
			report.Skipped = append(report.Skipped, skipped(t, i, fmt.Sprintf("duplicate of entry %d", first)))
			continue
		}
		seen[t.Name] = i

		for _, id := range t.Provides {
			report.Records = append(report.Records, capability.Record{
				Source:     source,
				Type:       t.Name,
				Capability: id,
				Metadata:   t.Metadata.Clone(),
			})
		}
	}

	return report
}

func skipped(t *capability.Type, index int, reason string) Skipped {
	s := Skipped{Index: index, Reason: reason}
	if t != nil {
		s.Type = t.Name
	}
	return s
}

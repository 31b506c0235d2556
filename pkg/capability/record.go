package capability

import "fmt"

// Record is the plain-data result of inspecting one (type, capability) pair.
type Record struct {
	// Source locates the owning module: a linked module name or an absolute file path.
	Source string `json:"source"`
	// Type is the fully qualified name of the implementing type within the module.
	Type       string   `json:"type"`
	Capability ID       `json:"capability"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return fmt.Sprintf("%s (%s) from %s", r.Type, r.Capability, r.Source)
}

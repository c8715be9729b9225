package tools

// Capability is the decision-model view of a tool.
type Capability struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  map[string]Property `json:"parameters"`
	Required    []string            `json:"required"`
}

// Listing is the public view of a tool served by the tools endpoint.
type Listing struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// Describe returns a capability per tool in registration order.
// It reads the registry on every call.
func (r *Registry) Describe() []Capability {
	tools := r.List()
	out := make([]Capability, 0, len(tools))
	for _, t := range tools {
		s := t.InputSchema()
		props := s.Properties
		if props == nil {
			props = map[string]Property{}
		}
		required := s.Required
		if required == nil {
			required = []string{}
		}
		out = append(out, Capability{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  props,
			Required:    required,
		})
	}
	return out
}

// Listings returns the name, description and schema of every tool.
func (r *Registry) Listings() []Listing {
	tools := r.List()
	out := make([]Listing, 0, len(tools))
	for _, t := range tools {
		out = append(out, Listing{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

package llm

import "fmt"

// Capability names a kind of work a provider can do. Consumers ask the
// registry for a capability instead of naming a provider, so swapping
// providers never touches the consuming package.
type Capability string

const (
	// CapabilityText is free-form text generation (cover letters, summaries)
	CapabilityText Capability = "text"
	// CapabilityJSON is schema-constrained structured output
	CapabilityJSON Capability = "json"
	// CapabilityVision is image understanding (challenge screenshots)
	CapabilityVision Capability = "vision"
)

// Registry indexes configured clients by capability.
type Registry struct {
	byCapability map[Capability]Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCapability: make(map[Capability]Client)}
}

// Register binds a client to the given capabilities. Later registrations for
// the same capability win, so configuration order expresses preference.
func (r *Registry) Register(client Client, capabilities ...Capability) {
	for _, c := range capabilities {
		r.byCapability[c] = client
	}
}

// ForCapability returns the client registered for a capability.
func (r *Registry) ForCapability(c Capability) (Client, error) {
	client, ok := r.byCapability[c]
	if !ok {
		return nil, fmt.Errorf("no provider registered for capability %s", c)
	}
	return client, nil
}

// Close closes every distinct registered client.
func (r *Registry) Close() error {
	seen := make(map[Client]bool)
	var firstErr error
	for _, client := range r.byCapability {
		if seen[client] {
			continue
		}
		seen[client] = true
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

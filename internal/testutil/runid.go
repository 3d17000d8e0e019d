package testutil

// FixedRunIDGenerator generates the same run id every time.
//
// Diagnostics carry the run id, so a fixed one keeps golden outputs
// byte-identical across runs.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator returning id. If id is empty,
// Generate returns "test-run".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
//
// Implements optimizer.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}

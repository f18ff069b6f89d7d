package testutil

// FixedRunIDGenerator returns the same run ID every time.
//
// Scenario runs use it so that repeated runs of the same scenario produce
// byte-identical logs and snapshots. Unlike engine.FixedGenerator it never
// runs out.
//
// Thread-safety: stateless, safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id. An empty id becomes
// "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}

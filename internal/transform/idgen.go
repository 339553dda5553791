package transform

import "fmt"

// IDGenerator hands out synthetic ids for source records that carry none of
// their own, such as form submissions. It is owned by the snapshot build that
// created it and passed explicitly; a rebuilt snapshot starts from zero, so
// ids are stable across identical inputs.
type IDGenerator struct {
	prefix string
	next   int
}

// NewIDGenerator creates a generator whose ids share the given prefix.
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next returns the next synthetic id.
func (g *IDGenerator) Next() string {
	g.next++
	return fmt.Sprintf("%s-%06d", g.prefix, g.next)
}

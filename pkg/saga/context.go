package saga

// Context accumulates facts produced by completed steps. A fact is written
// only after the action that produced it succeeded; compensation logic
// branches exclusively on these facts, never on assumptions about how far
// forward execution got.
//
// A Context belongs to a single saga invocation. It is created per run,
// mutated by steps executing strictly in sequence, and discarded when the
// saga returns. It is not safe for concurrent use and never needs to be.
type Context struct {
	strings map[string]string
	flags   map[string]bool
	values  map[string]any
}

// NewContext creates an empty saga context.
func NewContext() *Context {
	return &Context{
		strings: make(map[string]string),
		flags:   make(map[string]bool),
		values:  make(map[string]any),
	}
}

// SetString records a string fact, e.g. a provider-issued identifier.
func (c *Context) SetString(key, value string) {
	c.strings[key] = value
}

// String returns a string fact and whether it has been set.
func (c *Context) String(key string) (string, bool) {
	v, ok := c.strings[key]
	return v, ok
}

// StringOr returns a string fact or the fallback when unset.
func (c *Context) StringOr(key, fallback string) string {
	if v, ok := c.strings[key]; ok {
		return v
	}
	return fallback
}

// SetFlag records a boolean fact, e.g. "this saga created the user".
func (c *Context) SetFlag(key string, value bool) {
	c.flags[key] = value
}

// Flag returns a boolean fact; an unset flag reads false.
func (c *Context) Flag(key string) bool {
	return c.flags[key]
}

// SetValue records an arbitrary typed fact, e.g. a captured snapshot.
func (c *Context) SetValue(key string, value any) {
	c.values[key] = value
}

// Value returns an arbitrary fact and whether it has been set.
func (c *Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Package toolident defines the strong identifier type used to name tools
// across provider clients, execution events, and guard decisions.
package toolident

// Ident is the strong type for fully qualified tool identifiers
// (for example "search.web.lookup"). Using a distinct type instead of a bare
// string keeps tool names from being accidentally mixed with free-form text
// in maps or function signatures.
type Ident string

// Unavailable names the sentinel tool call emitted when a provider reports a
// tool invocation that the gateway cannot resolve to a registered tool.
const Unavailable Ident = "gateway.tool_unavailable"

func (i Ident) String() string { return string(i) }

// Package analysis statically vets user strategy code before it is ever
// executed: a syntax check, an allow-list pass over the AST, and syntactic
// extraction of the strategy's declared universe and cadence.
package analysis

// AllowedLoadModules are the only modules a strategy may load(). All of
// them are also predeclared, so load() is a convenience, not a requirement.
var AllowedLoadModules = map[string]bool{
	"math":           true,
	"time":           true,
	"json":           true,
	"stats":          true,
	"talib":          true,
	"hqg_algorithms": true,
}

// ForbiddenCallNames are call targets rejected outright. Most of these do
// not exist in the runtime at all; rejecting them statically turns a
// confusing runtime NameError into a precise analysis error, and getattr
// and friends are rejected because they would sidestep the attribute
// checks below.
var ForbiddenCallNames = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"__import__": true,
	"open":       true,
	"input":      true,
	"breakpoint": true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"dir":        true,
	"help":       true,
	"memoryview": true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"hasattr":    true,
}

// ReservedNames may not be reassigned at the top level; strategies that
// shadow them would silently break the execution contract.
var ReservedNames = map[string]bool{
	"Cadence":         true,
	"BarSize":         true,
	"ExecutionTiming": true,
	"TargetWeights":   true,
	"Hold":            true,
	"Liquidate":       true,
}

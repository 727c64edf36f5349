package analysis

import (
	"strings"

	"go.starlark.net/syntax"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// FileOptions is the single dialect used for both analysis and execution.
// Keeping the two in lockstep matters: code the analyzer accepts must parse
// identically inside the sandbox.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Parse parses strategy source without executing it.
func Parse(source string) (*syntax.File, error) {
	return FileOptions.Parse("strategy.star", source, 0)
}

// Analyze vets strategy source and returns every problem found. An empty
// list means the code is structurally acceptable; it says nothing about
// whether it will run to completion.
func Analyze(source string) domain.ErrorList {
	var errs domain.ErrorList

	file, err := Parse(source)
	if err != nil {
		appendParseError(&errs, err)
		return errs
	}

	checkTopLevel(file, &errs)

	syntax.Walk(file, func(n syntax.Node) bool {
		switch node := n.(type) {
		case *syntax.LoadStmt:
			module, _ := node.Module.Value.(string)
			if !AllowedLoadModules[module] {
				errs.AddAtf(line(node), "load of module %q is not allowed", module)
			}
		case *syntax.CallExpr:
			if ident, ok := node.Fn.(*syntax.Ident); ok && ForbiddenCallNames[ident.Name] {
				errs.AddAtf(line(node), "call to %q is not allowed", ident.Name)
			}
		case *syntax.DotExpr:
			if strings.HasPrefix(node.Name.Name, "__") {
				errs.AddAtf(line(node), "access to attribute %q is not allowed", node.Name.Name)
			}
		}
		return true
	})

	return errs
}

// checkTopLevel enforces the strategy contract: a top-level on_data
// function taking (data, portfolio), a top-level universe assignment, and
// no shadowing of the execution API names.
func checkTopLevel(file *syntax.File, errs *domain.ErrorList) {
	var hasOnData, hasUniverse bool

	for _, stmt := range file.Stmts {
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			if s.Name.Name != "on_data" {
				continue
			}
			hasOnData = true
			if len(s.Params) != 2 {
				errs.AddAtf(line(s), "on_data must accept exactly two parameters (data, portfolio), got %d", len(s.Params))
			}
		case *syntax.AssignStmt:
			if s.Op != syntax.EQ {
				continue
			}
			ident, ok := s.LHS.(*syntax.Ident)
			if !ok {
				continue
			}
			if ident.Name == "universe" {
				hasUniverse = true
			}
			if ReservedNames[ident.Name] {
				errs.AddAtf(line(s), "cannot reassign reserved name %q", ident.Name)
			}
		}
	}

	if !hasOnData {
		errs.Add("strategy must define a top-level on_data(data, portfolio) function")
	}
	if !hasUniverse {
		errs.Add("strategy must declare a top-level universe assignment")
	}
}

func appendParseError(errs *domain.ErrorList, err error) {
	switch e := err.(type) {
	case syntax.Error:
		errs.AddAtf(int(e.Pos.Line), "syntax error: %s", e.Msg)
	case *syntax.Error:
		errs.AddAtf(int(e.Pos.Line), "syntax error: %s", e.Msg)
	default:
		errs.Addf("syntax error: %s", err.Error())
	}
}

func line(n syntax.Node) int {
	start, _ := n.Span()
	return int(start.Line)
}

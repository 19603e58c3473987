package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that issue and sync enum fields only use defined constants, not string literals",
	Run:  run,
}

var enumTypes = map[string]bool{
	"IssueStatus":   true,
	"IssuePriority": true,
	"SyncOutcome":   true,
	"Trigger":       true,
	"TaskType":      true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.AssignStmt:
				for i, lhs := range node.Lhs {
					if i >= len(node.Rhs) {
						continue
					}
					sel, ok := lhs.(*ast.SelectorExpr)
					if !ok || !isEnumExpr(pass, sel) {
						continue
					}
					if isStringLiteral(node.Rhs[i]) {
						pass.Reportf(node.Pos(),
							"enum field %s assigned string literal; use defined constant instead",
							sel.Sel.Name)
					}
				}
			case *ast.CompositeLit:
				for _, elt := range node.Elts {
					kv, ok := elt.(*ast.KeyValueExpr)
					if !ok {
						continue
					}
					key, ok := kv.Key.(*ast.Ident)
					if !ok || !isStringLiteral(kv.Value) {
						continue
					}
					if isEnumExpr(pass, kv.Value) {
						pass.Reportf(kv.Pos(),
							"enum field %s assigned string literal; use defined constant instead",
							key.Name)
					}
				}
			}
			return true
		})
	}
	return nil, nil
}

func isEnumExpr(pass *analysis.Pass, expr ast.Expr) bool {
	t := pass.TypesInfo.TypeOf(expr)
	if t == nil {
		return false
	}
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	return enumTypes[named.Obj().Name()]
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Annotation is the metadata parsed from a test's doc comment
type Annotation struct {
	Name       string `json:"name"`
	Package    string `json:"package"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT or IT
}

var annotationPrefixes = map[string]func(*Annotation, string){
	"TestPurpose:":  func(a *Annotation, v string) { a.Purpose = v },
	"Scope:":        func(a *Annotation, v string) { a.Scope = v },
	"Security:":     func(a *Annotation, v string) { a.Security = v },
	"Expected:":     func(a *Annotation, v string) { a.Expected = v },
	"Test Case ID:": func(a *Annotation, v string) { a.TestCaseID = v },
}

// modulePath reads the module directive from root/go.mod
func modulePath(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to open go.mod: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if mod, ok := strings.CutPrefix(line, "module "); ok {
			return strings.Trim(strings.TrimSpace(mod), `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("go.mod has no module directive")
}

// scanAnnotations walks root for _test.go files and indexes each Test
// function by "<import path>.<name>".
func scanAnnotations(root, module string) (map[string]Annotation, error) {
	out := make(map[string]Annotation)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, p, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		pkg := module
		if rel != "." {
			pkg = path.Join(module, filepath.ToSlash(rel))
		}
		integration := hasBuildTag(file, "integration")

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") || fn.Name.Name == "TestMain" {
				continue
			}

			a := parseDoc(fn.Doc)
			a.Name = fn.Name.Name
			a.Package = pkg
			a.Category = categorize(strings.TrimPrefix(pkg, module))
			a.Type = "UT"
			if integration || strings.HasPrefix(strings.ToLower(a.Scope), "integration") {
				a.Type = "IT"
			}
			out[pkg+"."+a.Name] = a
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tests: %w", err)
	}
	return out, nil
}

func parseDoc(doc *ast.CommentGroup) Annotation {
	var a Annotation
	if doc == nil {
		return a
	}
	for _, c := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		for prefix, set := range annotationPrefixes {
			if v, ok := strings.CutPrefix(text, prefix); ok {
				set(&a, strings.TrimSpace(v))
				break
			}
		}
	}
	return a
}

func hasBuildTag(file *ast.File, tag string) bool {
	for _, group := range file.Comments {
		if group.Pos() >= file.Package {
			break
		}
		for _, c := range group.List {
			if expr, ok := strings.CutPrefix(c.Text, "//go:build "); ok && strings.Contains(expr, tag) {
				return true
			}
		}
	}
	return false
}

// categoryOrder is the section order used in reports
var categoryOrder = []string{
	"Agreement", "Intake", "Capture", "Fulfillment", "Contract", "Tenant",
	"Session", "Identity", "Store", "API", "Config", "Audit", "Tooling", "Other",
}

func categorize(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	switch {
	case strings.HasPrefix(rel, "internal/transport/http"):
		return "API"
	case strings.HasPrefix(rel, "internal/store/"):
		return "Store"
	case strings.HasPrefix(rel, "cmd/"):
		return "Tooling"
	}

	if pkg, ok := strings.CutPrefix(rel, "internal/"); ok {
		pkg, _, _ = strings.Cut(pkg, "/")
		for _, cat := range categoryOrder {
			if strings.EqualFold(cat, pkg) {
				return cat
			}
		}
	}
	return "Other"
}

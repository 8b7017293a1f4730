package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
)

func statusIcon(status string) string {
	switch status {
	case "pass":
		return "✅"
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	default:
		return "⚪"
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeMarkdown(path, title string, s Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# SafeStay %s\n\n", title)
	fmt.Fprintf(&b, "**Generated:** %s  \n", s.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	status := "✅ PASSED"
	if s.Failed > 0 {
		status = "❌ FAILED"
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	b.WriteString("|-------|--------|--------|---------|-----------|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %.1f%% |\n\n", s.Total, s.Passed, s.Failed, s.Skipped, s.PassRate())

	b.WriteString("## Results by Category\n\n")
	for _, g := range s.byCategory() {
		fmt.Fprintf(&b, "### %s\n\n", g.Name)
		b.WriteString("| ID | Test | Type | Status | Purpose | Security |\n")
		b.WriteString("|----|------|------|--------|---------|----------|\n")
		for _, t := range g.Tests {
			security := t.Annotations.Security
			if security != "" {
				security = "**" + security + "**"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, t.Annotations.Type, statusIcon(t.Status), t.Annotations.Purpose, security)
		}
		b.WriteString("\n")
	}

	if s.Failed > 0 {
		b.WriteString("## Failures\n\n")
		for _, t := range s.Results {
			if t.Status == "fail" {
				fmt.Fprintf(&b, "### %s (%s)\n\n```\n%s\n```\n\n", t.Name, t.Package, t.Failure)
			}
		}
	}
	return writeFile(path, []byte(b.String()))
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"icon": statusIcon,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>SafeStay - {{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; padding: 2rem; }
.container { max-width: 1000px; margin: 0 auto; background: #fff; padding: 2rem; border-radius: 8px; }
.badge { padding: 0.25rem 0.75rem; border-radius: 9999px; font-weight: 600; }
.pass { background: #dcfce7; color: #166534; }
.fail { background: #fee2e2; color: #991b1b; }
table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
th { text-align: left; background: #f1f5f9; padding: 0.5rem; }
td { padding: 0.5rem; border-bottom: 1px solid #e2e8f0; font-size: 0.875rem; vertical-align: top; }
.cat { margin-top: 2rem; border-left: 4px solid #2563eb; padding-left: 0.75rem; font-weight: 600; }
pre { background: #0f172a; color: #f8fafc; padding: 1rem; overflow-x: auto; font-size: 0.75rem; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Title}}</h1>
<p>Generated {{.Summary.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}
{{if gt .Summary.Failed 0}}<span class="badge fail">FAILED</span>{{else}}<span class="badge pass">PASSED</span>{{end}}</p>
<p>{{.Summary.Total}} total, {{.Summary.Passed}} passed, {{.Summary.Failed}} failed, {{.Summary.Skipped}} skipped ({{printf "%.1f" .Summary.PassRate}}%)</p>
{{range .Groups}}
<div class="cat">{{.Name}}</div>
<table>
<thead><tr><th>ID</th><th>Test</th><th>Type</th><th>Status</th><th>Purpose</th><th>Security</th></tr></thead>
<tbody>
{{range .Tests}}<tr><td>{{.Annotations.TestCaseID}}</td><td><code>{{.Name}}</code></td><td>{{.Annotations.Type}}</td><td>{{icon .Status}}</td><td>{{.Annotations.Purpose}}</td><td>{{.Annotations.Security}}</td></tr>
{{end}}</tbody>
</table>
{{end}}
{{if gt .Summary.Failed 0}}<h2>Failures</h2>
{{range .Summary.Results}}{{if eq .Status "fail"}}<h3>{{.Name}}</h3><pre>{{.Failure}}</pre>{{end}}{{end}}{{end}}
</div>
</body>
</html>
`))

func writeHTML(path, title string, s Summary) error {
	var buf bytes.Buffer
	err := htmlReport.Execute(&buf, struct {
		Title   string
		Summary Summary
		Groups  []categoryGroup
	}{title, s, s.byCategory()})
	if err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

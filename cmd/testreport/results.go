package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// testEvent is one line of `go test -json` output
type testEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// Result is the merged outcome of a single test
type Result struct {
	Name        string     `json:"name"`
	Package     string     `json:"package"`
	Status      string     `json:"status"`
	Elapsed     float64    `json:"elapsed_seconds"`
	Failure     string     `json:"failure_reason,omitempty"`
	Annotations Annotation `json:"annotations"`
}

// Summary is the top level of a report
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`
}

const statusNotRun = "not run"

// mergeResults folds test events into per-test results. Annotated tests
// that never produced an event are reported as not run. Subtests inherit
// their parent's annotations.
func mergeResults(r io.Reader, annotations map[string]Annotation) ([]Result, error) {
	states := make(map[string]*Result, len(annotations))
	for key, a := range annotations {
		states[key] = &Result{Name: a.Name, Package: a.Package, Status: statusNotRun, Annotations: a}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev testEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			res = &Result{Name: ev.Test, Package: ev.Package, Annotations: inherit(annotations, ev)}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail", "skip":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "output":
			res.Failure += ev.Output
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	results := make([]Result, 0, len(states))
	for _, res := range states {
		if res.Status != "fail" {
			res.Failure = ""
		}
		results = append(results, *res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Package != results[j].Package {
			return results[i].Package < results[j].Package
		}
		return results[i].Name < results[j].Name
	})
	return results, nil
}

func inherit(annotations map[string]Annotation, ev testEvent) Annotation {
	parent, _, isSub := strings.Cut(ev.Test, "/")
	if a, ok := annotations[ev.Package+"."+parent]; ok && isSub {
		a.Name = ev.Test
		return a
	}
	return Annotation{Name: ev.Test, Package: ev.Package, Category: "Other", Type: "UT"}
}

func summarize(results []Result) Summary {
	s := Summary{GeneratedAt: time.Now(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

// PassRate is the share of passed tests in percent
func (s Summary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

type categoryGroup struct {
	Name  string
	Tests []Result
}

// byCategory groups results in report order, skipping empty categories
func (s Summary) byCategory() []categoryGroup {
	grouped := make(map[string][]Result)
	for _, r := range s.Results {
		grouped[r.Annotations.Category] = append(grouped[r.Annotations.Category], r)
	}

	var out []categoryGroup
	for _, cat := range categoryOrder {
		if tests := grouped[cat]; len(tests) > 0 {
			out = append(out, categoryGroup{Name: cat, Tests: tests})
		}
	}
	return out
}

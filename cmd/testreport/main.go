// Command testreport merges `go test -json` output with the annotations in
// test doc comments and writes JSON, Markdown and HTML reports.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:          "testreport",
		Short:        "Build an annotated report from go test -json output",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&opts.input, "input", "", "Path to go test -json output file")
	f.StringVar(&opts.root, "root", ".", "Module root to scan for annotated tests")
	f.StringVar(&opts.outJSON, "out-json", "", "Path for the JSON report")
	f.StringVar(&opts.outMD, "out-md", "", "Path for the Markdown report")
	f.StringVar(&opts.outHTML, "out-html", "", "Path for the HTML report")
	f.StringVar(&opts.title, "title", "Test Report", "Report title")
	f.StringSliceVar(&opts.categories, "category", nil, "Only include these categories")
	f.StringSliceVar(&opts.excludeCategories, "exclude-category", nil, "Exclude these categories")
	f.StringVar(&opts.kind, "type", "", "Only include this test type (UT, IT)")
	_ = rootCmd.MarkFlagRequired("input")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	input             string
	root              string
	outJSON           string
	outMD             string
	outHTML           string
	title             string
	categories        []string
	excludeCategories []string
	kind              string
}

func run(opts options) error {
	module, err := modulePath(opts.root)
	if err != nil {
		return err
	}

	annotations, err := scanAnnotations(opts.root, module)
	if err != nil {
		return err
	}

	events, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("failed to open test output: %w", err)
	}
	defer events.Close()

	results, err := mergeResults(events, annotations)
	if err != nil {
		return err
	}
	results = filterResults(results, opts)
	summary := summarize(results)

	if opts.outJSON != "" {
		if err := writeJSON(opts.outJSON, summary); err != nil {
			return err
		}
	}
	if opts.outMD != "" {
		if err := writeMarkdown(opts.outMD, opts.title, summary); err != nil {
			return err
		}
	}
	if opts.outHTML != "" {
		if err := writeHTML(opts.outHTML, opts.title, summary); err != nil {
			return err
		}
	}

	fmt.Printf("%d tests: %d passed, %d failed, %d skipped\n", summary.Total, summary.Passed, summary.Failed, summary.Skipped)
	if summary.Failed > 0 {
		return fmt.Errorf("%d tests failed", summary.Failed)
	}
	return nil
}

func filterResults(results []Result, opts options) []Result {
	keep := results[:0]
	for _, r := range results {
		if len(opts.categories) > 0 && !containsFold(opts.categories, r.Annotations.Category) {
			continue
		}
		if containsFold(opts.excludeCategories, r.Annotations.Category) {
			continue
		}
		if opts.kind != "" && !strings.EqualFold(opts.kind, r.Annotations.Type) {
			continue
		}
		keep = append(keep, r)
	}
	return keep
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/normalize"
	"github.com/gemaraproj/evidence-mcp/internal/record"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

var (
	extractFile     string
	extractTemplate string
	checkStrict     bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import article files into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

var extractCmd = &cobra.Command{
	Use:   "extract [document-id]",
	Short: "Extract study data from a stored document, or from --file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExtract,
}

var assessCmd = &cobra.Command{
	Use:   "assess <document-id>",
	Short: "Run a GRADE assessment for every outcome of the latest extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssess,
}

var checkCmd = &cobra.Command{
	Use:   "check <extraction.json>",
	Short: "Run completeness and consistency checks on an extraction file",
	Long: `check normalizes an extraction record (plain JSON or a model response with
code fences), then reports completeness statistics, consistency findings and the
fields a verification pass would re-check. With --strict it fails when any
finding has error severity.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var locateCmd = &cobra.Command{
	Use:   "locate <file> <quote>",
	Short: "Find the page locations of a quote in an article file",
	Args:  cobra.ExactArgs(2),
	RunE:  runLocate,
}

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "Import this file first and extract it")
	extractCmd.Flags().StringVarP(&extractTemplate, "template", "t", "", "YAML template mapping section names to field lists")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Exit non-zero when an error-severity finding is reported")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, path := range args {
		doc, err := a.svc.ImportFile(ctx, path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d pages\t%s\n", doc.ID, len(doc.Pages), doc.Title)
	}
	return nil
}

func loadTemplate(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	var tmpl map[string][]string
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	if len(tmpl) == 0 {
		return nil, fmt.Errorf("template %s has no sections", path)
	}
	return tmpl, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if (len(args) == 0) == (extractFile == "") {
		return fmt.Errorf("give either a document id or --file")
	}
	tmpl, err := loadTemplate(extractTemplate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var id string
	if extractFile != "" {
		doc, err := a.svc.ImportFile(ctx, extractFile)
		if err != nil {
			return err
		}
		id = doc.ID
	} else {
		id = args[0]
	}

	e, err := a.svc.Extract(ctx, id, evidence.ExtractOptions{Template: tmpl})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), e)
}

func runAssess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	assessments, err := a.svc.Assess(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), assessments)
}

// CheckReport is the output of the check command.
type CheckReport struct {
	Summary           completeness.Summary  `json:"summary"`
	NeedsVerification bool                  `json:"needs_verification"`
	FieldsToVerify    []string              `json:"fields_to_verify"`
	Warnings          []consistency.Warning `json:"warnings"`
	ReviewStatus      map[string]string     `json:"review_status"`
	Errors            int                   `json:"errors"`
}

func buildCheckReport(text string, threshold float64) (CheckReport, error) {
	rec, err := record.ParseResponse(text)
	if err != nil {
		return CheckReport{}, err
	}
	normalize.Record(rec)
	summary := completeness.Analyze(rec)
	report := CheckReport{
		Summary:           summary,
		NeedsVerification: verify.NeedsSecondPass(summary, threshold),
		FieldsToVerify:    verify.FieldsToVerify(rec),
		Warnings:          consistency.Validate(rec),
		ReviewStatus:      verify.ReviewStatus(rec),
	}
	if report.FieldsToVerify == nil {
		report.FieldsToVerify = []string{}
	}
	if report.Warnings == nil {
		report.Warnings = []consistency.Warning{}
	}
	for _, w := range report.Warnings {
		if w.Severity == consistency.SeverityError {
			report.Errors++
		}
	}
	return report, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	report, err := buildCheckReport(string(data), cfg.Quality.VerificationThreshold)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if checkStrict && report.Errors > 0 {
		return fmt.Errorf("%d consistency error(s) found", report.Errors)
	}
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// LocateReport is the output of the locate command.
type LocateReport struct {
	Method    string                  `json:"method"`
	Score     float64                 `json:"score"`
	Locations []record.SourceLocation `json:"locations"`
}

func runLocate(cmd *cobra.Command, args []string) error {
	report, err := locateInFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func locateInFile(ctx context.Context, path, quote string) (LocateReport, error) {
	doc, err := newLoaders().LoadFile(ctx, path)
	if err != nil {
		return LocateReport{}, err
	}
	match := newLocator(cfg).LocateWithMeta(doc, quote)
	report := LocateReport{Method: string(match.Method), Score: match.Score, Locations: match.Locations}
	if report.Locations == nil {
		report.Locations = []record.SourceLocation{}
	}
	return report, nil
}

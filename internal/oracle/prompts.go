// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

const fieldContract = `Every leaf field is an object:
{"value": <extracted value or null>,
 "confidence": "high" | "medium" | "low" | null,
 "missing_reason": "not_reported" | "explicitly_absent" | "not_applicable" | "unclear" | null,
 "quotes": ["<verbatim supporting quote>"]}
Use null value with a missing_reason when the article does not give the information.
Set confidence only when value is present.`

// ExtractionSystemPrompt instructs the first extraction pass.
const ExtractionSystemPrompt = `You are a systematic review data extraction specialist. Your task is to ` +
	`extract structured data from scientific articles with high accuracy.

CRITICAL RULES:
1. For EVERY extracted value, provide the exact verbatim quote from the article that supports it.
2. If information is not found in the article, do NOT guess or infer: leave the value null and give a missing_reason.
3. Report numerical values exactly as written, including confidence intervals and p-values.
4. Identify the study design accurately (RCT, cohort, case-control, cross-sectional, etc.).

` + fieldContract + `

OUTPUT FORMAT:
Respond with valid JSON with these sections, each mapping field names to field objects:
study_design (type, description), population (description, inclusion_criteria, exclusion_criteria, sample_size),
intervention (description, dosage, duration), comparator (description),
outcomes (a list; each with name, type, measure, effect_size, effect_measure, ci_lower, ci_upper, p_value,
sample_size_intervention, sample_size_control, events_intervention, events_control),
setting (description), follow_up (duration), funding (source, conflicts), limitations (description),
conclusions (description).
Outcome "name" is a plain string, not a field object.`

// ExtractionUserPrompt asks for the first pass.
const ExtractionUserPrompt = `Extract all study data from the scientific article provided above. ` +
	`Follow the JSON output format specified in your instructions exactly. ` +
	`Include verbatim quotes from the article for every extracted field.`

// TemplateExtractionSystemPrompt restricts extraction to a reviewer-defined template.
func TemplateExtractionSystemPrompt(schema map[string][]string) string {
	rendered, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf(`You are a systematic review data extraction specialist. `+
		`Extract data from the scientific article according to the extraction template schema provided below.

CRITICAL RULES:
1. Extract ONLY the fields specified in the template schema.
2. For EVERY extracted value, provide the exact verbatim quote from the article.
3. If information is not found, do NOT guess.
4. Follow the template's section structure exactly.

EXTRACTION TEMPLATE SCHEMA (section name to field names):
%s

%s

Respond with valid JSON where each section from the template is a key mapping field names to field objects.`,
		rendered, fieldContract)
}

// TemplateExtractionUserPrompt asks for a template-restricted pass.
const TemplateExtractionUserPrompt = `Extract data from the article above following the ` +
	`extraction template schema in your instructions. Only extract the fields specified in the template.`

// VerificationSystemPrompt instructs the second, targeted pass.
const VerificationSystemPrompt = `You are re-checking a systematic review data extraction. ` +
	`Another reviewer produced the initial extraction below; some fields were missing or uncertain.

RULES:
1. Re-read the article and re-extract ONLY the listed fields.
2. Return the same section structure and the same list positions as the initial extraction.
3. Do not reorder, add or drop list elements such as outcomes; keep each outcome "name" unchanged.
4. Provide verbatim quotes for every value.

` + fieldContract

// VerificationUserPrompt lists the fields to re-check.
func VerificationUserPrompt(initial []byte, fields []string) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = "- " + f
	}
	return fmt.Sprintf("INITIAL EXTRACTION:\n%s\n\nFIELDS TO VERIFY:\n%s\n\n"+
		"Respond with JSON containing only the verified fields at their original paths.",
		initial, strings.Join(lines, "\n"))
}

// GradeSystemPrompt frames every GRADE call.
const GradeSystemPrompt = `You are an expert systematic reviewer applying the GRADE framework ` +
	`(Grading of Recommendations Assessment, Development and Evaluation) to assess the certainty ` +
	`of evidence from a clinical study.

Five domains can LOWER certainty: risk of bias, inconsistency, indirectness, imprecision, publication bias.
Three factors can RAISE certainty: large magnitude of effect, dose-response gradient, ` +
	`plausible residual confounding that would reduce the demonstrated effect.

Each downgrade domain can lower by 1 level (serious) or 2 levels (very serious).
Each upgrade factor can raise by 1 level.

CRITICAL: You MUST cite specific verbatim evidence from the article to justify EVERY rating.`

const domainAnswer = `Respond with JSON:
{
  "rating": "no_serious" | "serious" | "very_serious",
  "rationale": "<rationale>",
  "quotes": ["<supporting quotes>"]%s
}`

var domainGuidance = map[string]struct {
	title, guidance, extra string
}{
	"risk_of_bias": {
		title: "RISK OF BIAS",
		guidance: `Evaluate and cite text for: random sequence generation, allocation concealment, ` +
			`blinding of participants and personnel, blinding of outcome assessment, ` +
			`incomplete outcome data, selective reporting.`,
		extra: `,
  "criteria": {"<criterion>": {"assessment": "adequate|unclear|inadequate", "quote": "<text>"}}`,
	},
	"inconsistency": {
		title: "INCONSISTENCY",
		guidance: `For a single study consider whether subgroup analyses and different outcome measures agree. ` +
			`Single studies are usually rated no_serious unless subgroups conflict.`,
	},
	"indirectness": {
		title:    "INDIRECTNESS",
		guidance: `Consider whether population, intervention, comparator and outcomes directly match the question.`,
		extra: `,
  "population_assessment": "direct|indirect",
  "intervention_assessment": "direct|indirect",
  "comparator_assessment": "direct|indirect",
  "outcome_assessment": "direct|indirect"`,
	},
	"imprecision": {
		title: "IMPRECISION",
		guidance: `Consider sample size and events (rule of thumb: fewer than 400), ` +
			`whether the confidence interval crosses clinical thresholds, and the optimal information size.`,
		extra: `,
  "sample_size_adequate": true | false,
  "ci_assessment": "wide|narrow|crosses_null"`,
	},
	"publication_bias": {
		title: "PUBLICATION BIAS",
		guidance: `Consider trial registration, signs of selective outcome reporting, and funding or ` +
			`sponsorship that might influence reporting.`,
		extra: `,
  "registration_status": "registered|not_mentioned|not_registered"`,
	},
}

// GradeDomainPrompt asks for one downgrade domain judgment. It returns false
// for an unknown domain.
func GradeDomainPrompt(domain, outcome string) (string, bool) {
	g, ok := domainGuidance[domain]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Assess %s for the outcome '%s' in this study.\n\n%s\n\n%s",
		g.title, outcome, g.guidance, fmt.Sprintf(domainAnswer, g.extra)), true
}

// GradeUpgradePrompt asks for the three upgrade factors at once.
func GradeUpgradePrompt(outcome string) string {
	return fmt.Sprintf(`Assess whether any UPGRADE factors apply for '%s':

1. Large magnitude of effect: is the effect size large (e.g., RR > 2 or < 0.5)?
2. Dose-response gradient: is there evidence of a dose-response relationship?
3. Residual confounding: would plausible confounders reduce the demonstrated effect?

Respond with JSON:
{
  "large_effect": {"applicable": true | false, "rationale": "<rationale>", "quotes": ["<supporting quotes>"]},
  "dose_response": {"applicable": true | false, "rationale": "<rationale>", "quotes": ["<supporting quotes>"]},
  "residual_confounding": {"applicable": true | false, "rationale": "<rationale>", "quotes": ["<supporting quotes>"]}
}`, outcome)
}

// FewShotExample is a worked example shown to the oracle.
type FewShotExample struct {
	InputText      string
	ExpectedOutput json.RawMessage
}

const maxExcerptRunes = 3000

// FewShot renders examples as a prompt preamble. It returns "" for no examples.
func FewShot(examples []FewShotExample) string {
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<examples>\n")
	for i, ex := range examples {
		excerpt := []rune(ex.InputText)
		if len(excerpt) > maxExcerptRunes {
			excerpt = excerpt[:maxExcerptRunes]
		}
		output := ex.ExpectedOutput
		if len(output) == 0 {
			output = json.RawMessage("{}")
		}
		fmt.Fprintf(&b, "<example index='%d'>\n<article_excerpt>\n%s\n</article_excerpt>\n", i+1, string(excerpt))
		fmt.Fprintf(&b, "<correct_extraction>\n%s\n</correct_extraction>\n</example>\n", output)
	}
	b.WriteString("</examples>\n\nNow extract data from the following article:")
	return b.String()
}

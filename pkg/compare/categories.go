package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// ---- backend functions ----

func (c *Comparator) compareFunctions(ctx context.Context, source, target []models.BackendFunction, scope models.Scope) categoryOutcome {
	sourceKeys := make([]string, len(source))
	rawSource := make([]string, len(source))
	for i, f := range source {
		sourceKeys[i] = NormalizeName(f.Name)
		rawSource[i] = f.Name
	}
	targetKeys := make([]string, len(target))
	rawTarget := make([]string, len(target))
	for i, f := range target {
		targetKeys[i] = NormalizeName(f.Name)
		rawTarget[i] = f.Name
	}

	p := identityPair(sourceKeys, targetKeys, rawSource, rawTarget)
	signaturePair(&p, source, target)
	c.semanticPair(ctx, &p, models.CategoryFunctions,
		func(i int) string { return source[i].Name },
		func(i int) string { return target[i].Name })

	var out categoryOutcome
	out.elementCount = p.count()

	for _, pair := range p.pairs {
		s, t := source[pair.s], target[pair.t]

		if !parametersEquivalent(s.Parameters, t.Parameters) {
			out.discrepancies = append(out.discrepancies, disc(
				models.CategoryFunctions, models.DiscParamMismatch, scope,
				fmt.Sprintf("function %q parameter list differs: %s vs %s",
					s.Name, formatParams(s.Parameters), formatParams(t.Parameters)),
				s.Name, t.Name))
		}
		if s.ReturnType != "" && t.ReturnType != "" && !TypesEquivalent(s.ReturnType, t.ReturnType) {
			out.discrepancies = append(out.discrepancies, disc(
				models.CategoryFunctions, models.DiscReturnMismatch, scope,
				fmt.Sprintf("function %q return type changed from %s to %s",
					s.Name, s.ReturnType, t.ReturnType),
				s.Name, t.Name))
		}
		if d := c.compareBusinessLogic(ctx, s, t, scope); d != nil {
			out.discrepancies = append(out.discrepancies, *d)
		}
	}

	out.discrepancies = append(out.discrepancies,
		c.leftoverDiscs(models.CategoryFunctions, scope, p,
			func(i int) string { return source[i].Name },
			func(i int) string { return target[i].Name })...)
	return out
}

func parametersEquivalent(a, b []models.Parameter) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type == "" && b[i].Type == "" {
			if NormalizeName(a[i].Name) != NormalizeName(b[i].Name) {
				return false
			}
			continue
		}
		if !TypesEquivalent(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

func formatParams(params []models.Parameter) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strings.TrimSpace(p.Name + " " + p.Type)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// logicComparison is the JSON contract of the business-logic prompt.
type logicComparison struct {
	Similarity float64 `json:"similarity"`
	Diagnosis  string  `json:"diagnosis"`
}

const logicSystemPrompt = `You compare the business logic of two implementations of the same function across a code migration. Answer with strict JSON only:
{"similarity": 0.0, "diagnosis": ""}
similarity in [0,1] reflects behavioral equivalence; diagnosis is one short sentence naming the difference, empty when equivalent.`

// logicSimilarityThreshold is the similarity below which a divergence
// discrepancy is raised.
const logicSimilarityThreshold = 0.7

func (c *Comparator) compareBusinessLogic(ctx context.Context, s, t models.BackendFunction, scope models.Scope) *models.Discrepancy {
	if c.dispatcher == nil || s.LogicSummary == "" || t.LogicSummary == "" {
		return nil
	}

	prompt := fmt.Sprintf("Function: %s\nSource logic: %s\nTarget logic: %s",
		s.Name, s.LogicSummary, t.LogicSummary)
	resp, err := c.dispatcher.Ask(ctx, models.LLMRequest{
		SessionID:    c.sessionID,
		SystemPrompt: logicSystemPrompt,
		Prompt:       prompt,
		Band:         models.TempLow,
		WantJSON:     true,
		Deadline:     c.deadline,
		Context:      map[string]string{"task": "logic-comparison", "function": s.Name},
	})
	if err != nil {
		return nil
	}
	var parsed logicComparison
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &parsed); err != nil {
		return nil
	}
	if parsed.Similarity >= logicSimilarityThreshold {
		return nil
	}

	d := disc(models.CategoryFunctions, models.DiscLogicDivergence, scope,
		fmt.Sprintf("function %q business logic diverges: %s", s.Name, parsed.Diagnosis),
		s.Name, t.Name)
	d.Confidence = 1.0 - parsed.Similarity
	d.Recommendation = fmt.Sprintf("review %q in the target and align its behavior with the source", t.Name)
	return &d
}

// ---- data structures ----

func (c *Comparator) compareStructures(ctx context.Context, source, target []models.DataStructure, scope models.Scope) categoryOutcome {
	sourceKeys := make([]string, len(source))
	rawSource := make([]string, len(source))
	for i, s := range source {
		sourceKeys[i] = NormalizeName(s.Name)
		rawSource[i] = s.Name
	}
	targetKeys := make([]string, len(target))
	rawTarget := make([]string, len(target))
	for i, s := range target {
		targetKeys[i] = NormalizeName(s.Name)
		rawTarget[i] = s.Name
	}

	p := identityPair(sourceKeys, targetKeys, rawSource, rawTarget)
	c.semanticPair(ctx, &p, models.CategoryStructures,
		func(i int) string { return source[i].Name },
		func(i int) string { return target[i].Name })

	var out categoryOutcome
	out.elementCount = p.count()

	for _, pair := range p.pairs {
		out.discrepancies = append(out.discrepancies,
			compareFields(source[pair.s], target[pair.t], scope)...)
	}
	out.discrepancies = append(out.discrepancies,
		c.leftoverDiscs(models.CategoryStructures, scope, p,
			func(i int) string { return source[i].Name },
			func(i int) string { return target[i].Name })...)
	return out
}

func compareFields(s, t models.DataStructure, scope models.Scope) []models.Discrepancy {
	var out []models.Discrepancy

	targetByKey := make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		key := NormalizeName(f.Name)
		if _, exists := targetByKey[key]; !exists {
			targetByKey[key] = i
		}
	}

	matchedTarget := make(map[int]bool)
	for _, sf := range s.Fields {
		ti, ok := targetByKey[NormalizeName(sf.Name)]
		if !ok {
			out = append(out, disc(models.CategoryStructures, models.DiscMissingElement, scope,
				fmt.Sprintf("field %q of %q is absent in the target", sf.Name, s.Name),
				s.Name+"."+sf.Name, ""))
			continue
		}
		matchedTarget[ti] = true
		tf := t.Fields[ti]
		pointer := s.Name + "." + sf.Name

		if sf.Name != tf.Name {
			out = append(out, disc(models.CategoryStructures, models.DiscFieldRenamed, scope,
				fmt.Sprintf("field %q renamed to %q", sf.Name, tf.Name),
				pointer, t.Name+"."+tf.Name))
		}
		if !TypesEquivalent(sf.Type, tf.Type) {
			kind := models.DiscTypeMismatch
			d := disc(models.CategoryStructures, kind, scope,
				fmt.Sprintf("field %q type changed from %s to %s", sf.Name, sf.Type, tf.Type),
				pointer, t.Name+"."+tf.Name)
			if IsNumericWidening(sf.Type, tf.Type) && scope != models.ScopeDataStructure && scope != models.ScopeBusinessRules {
				d.Severity = models.SeverityWarning
			}
			out = append(out, d)
		}
		if sf.Required != tf.Required {
			if tf.Required {
				out = append(out, disc(models.CategoryStructures, models.DiscRequiredTightened, scope,
					fmt.Sprintf("field %q became required in the target", sf.Name),
					pointer, t.Name+"."+tf.Name))
			} else {
				out = append(out, disc(models.CategoryStructures, models.DiscRequiredRelaxed, scope,
					fmt.Sprintf("field %q is no longer required in the target", sf.Name),
					pointer, t.Name+"."+tf.Name))
			}
		}
		out = append(out, compareConstraints(pointer, t.Name+"."+tf.Name, sf, tf, scope)...)
	}

	for i, tf := range t.Fields {
		if !matchedTarget[i] {
			out = append(out, disc(models.CategoryStructures, models.DiscAdditionalElement, scope,
				fmt.Sprintf("field %q of %q has no source counterpart", tf.Name, t.Name),
				"", t.Name+"."+tf.Name))
		}
	}
	return out
}

func compareConstraints(sourcePtr, targetPtr string, sf, tf models.Field, scope models.Scope) []models.Discrepancy {
	var out []models.Discrepancy
	targetSet := make(map[string]bool, len(tf.Constraints))
	for _, c := range tf.Constraints {
		targetSet[strings.ToLower(c)] = true
	}
	sourceSet := make(map[string]bool, len(sf.Constraints))
	for _, c := range sf.Constraints {
		sourceSet[strings.ToLower(c)] = true
	}
	for _, c := range sf.Constraints {
		if !targetSet[strings.ToLower(c)] {
			out = append(out, disc(models.CategoryStructures, models.DiscMissingConstraint, scope,
				fmt.Sprintf("constraint %q on %s is missing in the target", c, sourcePtr),
				sourcePtr, targetPtr))
		}
	}
	for _, c := range tf.Constraints {
		if !sourceSet[strings.ToLower(c)] {
			out = append(out, disc(models.CategoryStructures, models.DiscAddedConstraint, scope,
				fmt.Sprintf("constraint %q on %s was added in the target", c, targetPtr),
				sourcePtr, targetPtr))
		}
	}
	return out
}

// ---- API endpoints ----

func (c *Comparator) compareEndpoints(source, target []models.APIEndpoint, scope models.Scope) categoryOutcome {
	sourceKeys := make([]string, len(source))
	rawSource := make([]string, len(source))
	for i, e := range source {
		sourceKeys[i] = NormalizePath(e.Path)
		rawSource[i] = e.Path
	}
	targetKeys := make([]string, len(target))
	rawTarget := make([]string, len(target))
	for i, e := range target {
		targetKeys[i] = NormalizePath(e.Path)
		rawTarget[i] = e.Path
	}

	p := identityPair(sourceKeys, targetKeys, rawSource, rawTarget)

	var out categoryOutcome
	out.elementCount = p.count()

	for _, pair := range p.pairs {
		s, t := source[pair.s], target[pair.t]
		targetMethods := make(map[string]bool, len(t.Methods))
		for _, m := range t.Methods {
			targetMethods[strings.ToUpper(m)] = true
		}
		sourceMethods := make(map[string]bool, len(s.Methods))
		for _, m := range s.Methods {
			sourceMethods[strings.ToUpper(m)] = true
		}

		for _, m := range s.Methods {
			if !targetMethods[strings.ToUpper(m)] {
				out.discrepancies = append(out.discrepancies, disc(
					models.CategoryEndpoints, models.DiscMissingMethod, scope,
					fmt.Sprintf("endpoint %s no longer accepts %s", s.Path, strings.ToUpper(m)),
					s.Path, t.Path))
			}
		}
		for _, m := range t.Methods {
			if !sourceMethods[strings.ToUpper(m)] {
				out.discrepancies = append(out.discrepancies, disc(
					models.CategoryEndpoints, models.DiscExtraMethod, scope,
					fmt.Sprintf("endpoint %s gained method %s", t.Path, strings.ToUpper(m)),
					s.Path, t.Path))
			}
		}
		if s.Handler != "" && t.Handler != "" && NormalizeName(s.Handler) != NormalizeName(t.Handler) {
			out.discrepancies = append(out.discrepancies, disc(
				models.CategoryEndpoints, models.DiscHandlerMismatch, scope,
				fmt.Sprintf("endpoint %s handler changed from %q to %q", s.Path, s.Handler, t.Handler),
				s.Path, t.Path))
		}
	}

	out.discrepancies = append(out.discrepancies,
		c.leftoverDiscs(models.CategoryEndpoints, scope, p,
			func(i int) string { return source[i].Path },
			func(i int) string { return target[i].Path })...)
	return out
}

// ---- UI elements ----

func (c *Comparator) compareUI(ctx context.Context, source, target []models.UIElement, scope models.Scope) categoryOutcome {
	sourceKeys := make([]string, len(source))
	rawSource := make([]string, len(source))
	for i, e := range source {
		sourceKeys[i] = NormalizeName(e.ID)
		rawSource[i] = e.ID
	}
	targetKeys := make([]string, len(target))
	rawTarget := make([]string, len(target))
	for i, e := range target {
		targetKeys[i] = NormalizeName(e.ID)
		rawTarget[i] = e.ID
	}

	p := identityPair(sourceKeys, targetKeys, rawSource, rawTarget)
	c.semanticPair(ctx, &p, models.CategoryUI,
		func(i int) string { return source[i].ID },
		func(i int) string { return target[i].ID })

	var out categoryOutcome
	out.elementCount = p.count()

	for _, pair := range p.pairs {
		s, t := source[pair.s], target[pair.t]

		if !strings.EqualFold(s.Kind, t.Kind) {
			out.discrepancies = append(out.discrepancies, disc(
				models.CategoryUI, models.DiscUIKindMismatch, scope,
				fmt.Sprintf("element %q changed kind from %s to %s", s.ID, s.Kind, t.Kind),
				s.ID, t.ID))
		}
		if pair.renamed {
			out.discrepancies = append(out.discrepancies, disc(
				models.CategoryUI, models.DiscUIElementRenamed, scope,
				fmt.Sprintf("element %q renamed to %q", s.ID, t.ID),
				s.ID, t.ID))
		}
		if s.Text != t.Text {
			d := disc(models.CategoryUI, models.DiscUITextChanged, scope,
				fmt.Sprintf("element %q text changed from %q to %q", s.ID, s.Text, t.Text),
				s.ID, t.ID)
			if !textBearingKind(s.Kind) {
				d.Severity = models.SeverityInfo
			}
			out.discrepancies = append(out.discrepancies, d)
		}
		out.discrepancies = append(out.discrepancies, compareAttributes(s, t, scope)...)
	}

	out.discrepancies = append(out.discrepancies,
		c.leftoverDiscs(models.CategoryUI, scope, p,
			func(i int) string { return source[i].ID },
			func(i int) string { return target[i].ID })...)
	return out
}

// textBearingKind reports whether text changes on the element kind matter
// to users (buttons and labels).
func textBearingKind(kind string) bool {
	switch strings.ToLower(kind) {
	case "button", "label", "link":
		return true
	}
	return false
}

// sensitiveAttributes escalate attribute changes from info to warning.
var sensitiveAttributes = map[string]bool{"required": true, "name": true, "id": true}

func compareAttributes(s, t models.UIElement, scope models.Scope) []models.Discrepancy {
	var out []models.Discrepancy
	seen := make(map[string]bool, len(s.Attributes))
	for key, sv := range s.Attributes {
		seen[key] = true
		tv, ok := t.Attributes[key]
		if ok && tv == sv {
			continue
		}
		d := disc(models.CategoryUI, models.DiscUIAttrChanged, scope,
			fmt.Sprintf("element %q attribute %q changed from %q to %q", s.ID, key, sv, tv),
			s.ID, t.ID)
		if sensitiveAttributes[strings.ToLower(key)] {
			d.Severity = models.SeverityWarning
		}
		out = append(out, d)
	}
	for key, tv := range t.Attributes {
		if seen[key] {
			continue
		}
		d := disc(models.CategoryUI, models.DiscUIAttrChanged, scope,
			fmt.Sprintf("element %q gained attribute %q=%q", t.ID, key, tv),
			s.ID, t.ID)
		if sensitiveAttributes[strings.ToLower(key)] {
			d.Severity = models.SeverityWarning
		}
		out = append(out, d)
	}
	return out
}

// leftoverDiscs converts unpaired remainders into missing/additional
// element discrepancies.
func (c *Comparator) leftoverDiscs(category models.Category, scope models.Scope, p pairing, sourceName func(int) string, targetName func(int) string) []models.Discrepancy {
	var out []models.Discrepancy
	for _, idx := range p.sourceOnly {
		out = append(out, disc(category, models.DiscMissingElement, scope,
			fmt.Sprintf("%s %q is present in the source but absent in the target", categoryNoun(category), sourceName(idx)),
			sourceName(idx), ""))
	}
	for _, idx := range p.targetOnly {
		out = append(out, disc(category, models.DiscAdditionalElement, scope,
			fmt.Sprintf("%s %q is present in the target but absent in the source", categoryNoun(category), targetName(idx)),
			"", targetName(idx)))
	}
	return out
}

func categoryNoun(category models.Category) string {
	switch category {
	case models.CategoryFunctions:
		return "function"
	case models.CategoryStructures:
		return "data structure"
	case models.CategoryEndpoints:
		return "endpoint"
	case models.CategoryUI:
		return "ui element"
	default:
		return "element"
	}
}

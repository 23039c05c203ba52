package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// pairedIdx is one matched (source, target) index pair.
type pairedIdx struct {
	s, t int
	// renamed is true when the raw identifiers differ even though the
	// elements were matched.
	renamed bool
}

// pairing is the outcome of the layered pairing procedure for one
// category.
type pairing struct {
	pairs      []pairedIdx
	sourceOnly []int
	targetOnly []int
}

// count returns paired + unpaired elements, the scoring denominator.
func (p *pairing) count() int {
	return len(p.pairs) + len(p.sourceOnly) + len(p.targetOnly)
}

// identityPair matches elements whose normalized names are equal. When
// several targets share a key, the earliest in input order wins.
func identityPair(sourceKeys, targetKeys []string, rawSource, rawTarget []string) pairing {
	free := make(map[string][]int, len(targetKeys))
	for i, key := range targetKeys {
		free[key] = append(free[key], i)
	}

	var result pairing
	usedTargets := make(map[int]bool)
	for i, key := range sourceKeys {
		candidates := free[key]
		if len(candidates) == 0 {
			result.sourceOnly = append(result.sourceOnly, i)
			continue
		}
		t := candidates[0]
		free[key] = candidates[1:]
		usedTargets[t] = true
		result.pairs = append(result.pairs, pairedIdx{
			s: i, t: t, renamed: rawSource[i] != rawTarget[t],
		})
	}
	for i := range targetKeys {
		if !usedTargets[i] {
			result.targetOnly = append(result.targetOnly, i)
		}
	}
	return result
}

// semanticPairResponse is the JSON contract of the pairing prompt.
type semanticPairResponse struct {
	Pairs []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Similarity float64 `json:"similarity"`
	} `json:"pairs"`
}

const pairingSystemPrompt = `You match renamed program elements across a code migration. Given two lists of element names, propose pairs that denote the same element. Answer with strict JSON only:
{"pairs": [{"source": "", "target": "", "similarity": 0.0}]}
similarity is your confidence in [0,1]. Only propose one pair per element.`

// semanticPairThreshold discards LLM-suggested pairs below this
// similarity.
const semanticPairThreshold = 0.55

// semanticPair submits remaining unpaired names to the dispatcher and
// folds accepted pairs back into the pairing. Failures leave the pairing
// unchanged: unpaired elements then surface as missing/additional.
func (c *Comparator) semanticPair(ctx context.Context, p *pairing, category models.Category, sourceNames func(int) string, targetNames func(int) string) {
	if c.dispatcher == nil || len(p.sourceOnly) == 0 || len(p.targetOnly) == 0 {
		return
	}

	srcList := make([]string, len(p.sourceOnly))
	for i, idx := range p.sourceOnly {
		srcList[i] = sourceNames(idx)
	}
	tgtList := make([]string, len(p.targetOnly))
	for i, idx := range p.targetOnly {
		tgtList[i] = targetNames(idx)
	}

	prompt := fmt.Sprintf("Category: %s\nSource elements:\n%s\n\nTarget elements:\n%s",
		category, strings.Join(srcList, "\n"), strings.Join(tgtList, "\n"))

	resp, err := c.dispatcher.Ask(ctx, models.LLMRequest{
		SessionID:    c.sessionID,
		SystemPrompt: pairingSystemPrompt,
		Prompt:       prompt,
		Band:         models.TempLow,
		WantJSON:     true,
		Deadline:     c.deadline,
		Context:      map[string]string{"task": "pairing", "category": string(category)},
	})
	if err != nil {
		// Pairing is best-effort: unpaired remainders become
		// missing/additional discrepancies.
		return
	}

	var parsed semanticPairResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &parsed); err != nil {
		return
	}

	bySource := make(map[string]int, len(p.sourceOnly))
	for _, idx := range p.sourceOnly {
		bySource[sourceNames(idx)] = idx
	}
	byTarget := make(map[string]int, len(p.targetOnly))
	for _, idx := range p.targetOnly {
		byTarget[targetNames(idx)] = idx
	}

	matchedSource := make(map[int]bool)
	matchedTarget := make(map[int]bool)
	for _, suggestion := range parsed.Pairs {
		if suggestion.Similarity < semanticPairThreshold {
			continue
		}
		s, sOK := bySource[suggestion.Source]
		t, tOK := byTarget[suggestion.Target]
		if !sOK || !tOK || matchedSource[s] || matchedTarget[t] {
			continue
		}
		matchedSource[s] = true
		matchedTarget[t] = true
		p.pairs = append(p.pairs, pairedIdx{s: s, t: t, renamed: true})
	}

	p.sourceOnly = filterUnmatched(p.sourceOnly, matchedSource)
	p.targetOnly = filterUnmatched(p.targetOnly, matchedTarget)
}

func filterUnmatched(indexes []int, matched map[int]bool) []int {
	out := indexes[:0]
	for _, idx := range indexes {
		if !matched[idx] {
			out = append(out, idx)
		}
	}
	return out
}

// signaturePair matches remaining functions by arity and ordered type
// equivalence after normalization.
func signaturePair(p *pairing, source, target []models.BackendFunction) {
	matchedTarget := make(map[int]bool)
	matchedSource := make(map[int]bool)
	for _, s := range p.sourceOnly {
		for _, t := range p.targetOnly {
			if matchedTarget[t] {
				continue
			}
			if signaturesEquivalent(source[s], target[t]) {
				p.pairs = append(p.pairs, pairedIdx{s: s, t: t, renamed: true})
				matchedSource[s] = true
				matchedTarget[t] = true
				break
			}
		}
	}
	p.sourceOnly = filterUnmatched(p.sourceOnly, matchedSource)
	p.targetOnly = filterUnmatched(p.targetOnly, matchedTarget)
}

func signaturesEquivalent(a, b models.BackendFunction) bool {
	if len(a.Parameters) != len(b.Parameters) || len(a.Parameters) == 0 {
		return false
	}
	for i := range a.Parameters {
		if !TypesEquivalent(a.Parameters[i].Type, b.Parameters[i].Type) {
			return false
		}
	}
	return true
}

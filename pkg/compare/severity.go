package compare

import (
	"github.com/luissimon96/migration-validator/pkg/models"
)

// baseSeverity is the static (category, change-kind) severity table before
// scope adjustment.
var baseSeverity = map[models.Category]map[models.DiscrepancyKind]models.Severity{
	models.CategoryStructures: {
		models.DiscMissingElement:    models.SeverityCritical,
		models.DiscAdditionalElement: models.SeverityInfo,
		models.DiscFieldRenamed:      models.SeverityWarning,
		models.DiscTypeMismatch:      models.SeverityCritical,
		models.DiscRequiredTightened: models.SeverityCritical,
		models.DiscRequiredRelaxed:   models.SeverityWarning,
		models.DiscMissingConstraint: models.SeverityWarning,
		models.DiscAddedConstraint:   models.SeverityInfo,
	},
	models.CategoryFunctions: {
		models.DiscMissingElement:    models.SeverityCritical,
		models.DiscAdditionalElement: models.SeverityInfo,
		models.DiscParamMismatch:     models.SeverityCritical,
		models.DiscReturnMismatch:    models.SeverityCritical,
		models.DiscLogicDivergence:   models.SeverityCritical,
	},
	models.CategoryEndpoints: {
		models.DiscMissingElement:    models.SeverityCritical,
		models.DiscAdditionalElement: models.SeverityInfo,
		models.DiscMissingMethod:     models.SeverityCritical,
		models.DiscExtraMethod:       models.SeverityWarning,
		models.DiscHandlerMismatch:   models.SeverityInfo,
		models.DiscPathMismatch:      models.SeverityWarning,
	},
	models.CategoryUI: {
		models.DiscMissingElement:    models.SeverityCritical,
		models.DiscAdditionalElement: models.SeverityInfo,
		models.DiscUIKindMismatch:    models.SeverityCritical,
		models.DiscUIElementRenamed:  models.SeverityWarning,
		models.DiscUITextChanged:     models.SeverityWarning,
		models.DiscUIAttrChanged:     models.SeverityInfo,
	},
}

// severityFor computes severity from (category, change-kind, scope).
// Policy: no change-kind is critical under the UI scope; under
// data-structure and business-rules scopes, type mismatches and missing
// fields/functions are always critical.
func severityFor(category models.Category, kind models.DiscrepancyKind, scope models.Scope) models.Severity {
	severity, ok := baseSeverity[category][kind]
	if !ok {
		severity = models.SeverityInfo
	}

	switch scope {
	case models.ScopeUI:
		if severity == models.SeverityCritical {
			severity = models.SeverityWarning
		}
	case models.ScopeDataStructure, models.ScopeBusinessRules:
		if kind == models.DiscTypeMismatch || kind == models.DiscMissingElement {
			severity = models.SeverityCritical
		}
	}
	return severity
}

// discrepancyMass weights a discrepancy for partial fidelity scoring.
func discrepancyMass(severity models.Severity) float64 {
	switch severity {
	case models.SeverityCritical:
		return 1.0
	case models.SeverityWarning:
		return 0.5
	default:
		return 0.1
	}
}

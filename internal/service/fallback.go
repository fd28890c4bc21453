package service

import (
	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

// StaticAllocation is the table-driven decision used when scoring fails:
// the template's primary department, else the category default.
func StaticAllocation(c *catalog.Catalog, a models.Assessment, template string) Allocation {
	target := c.TargetDepartment(template, a.Category)
	return Allocation{
		Chosen:         target,
		Target:         target,
		Scores:         map[string]models.Score{},
		Alternatives:   []models.Alternative{},
		Strategy:       models.StrategyStatic,
		SafetyOverride: a.Category <= 2,
	}
}

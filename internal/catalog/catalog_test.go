package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic_triage/backend/internal/models"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.Len(t, c.Departments, 8)
	require.Len(t, c.Templates, 20)
	assert.Equal(t, "SOR", c.CriticalDepartment)

	d, ok := c.Department("Ortopedia")
	require.True(t, ok)
	assert.Equal(t, 25, d.Capacity)
	assert.Equal(t, models.KindElective, d.Kind)
}

func TestCompatibilityWeights(t *testing.T) {
	c := Default()
	w := c.Compatibility("zlamanie_konczyny", 4)

	assert.Equal(t, 1.0, w["Ortopedia"])
	assert.InDelta(t, 0.8, w["SOR"], 1e-9)
	assert.InDelta(t, 0.6, w["Chirurgia"], 1e-9)
	assert.Equal(t, DefaultCompatibilityFloor, w["Kardiologia"])
	assert.False(t, c.IsCompatible(w["Kardiologia"]))
	assert.True(t, c.IsCompatible(w["Chirurgia"]))
	assert.Len(t, w, len(c.Departments))
}

func TestCompatibilityUnknownTemplate(t *testing.T) {
	c := Default()
	w := c.Compatibility(NoTemplate, 4)
	assert.Equal(t, 1.0, w["Interna"])
	assert.Equal(t, 0.8, w["SOR"])
	assert.Equal(t, DefaultCompatibilityFloor, w["Ortopedia"])

	w = c.Compatibility(NoTemplate, 1)
	assert.Equal(t, 1.0, w["SOR"])
}

func TestTargetDepartment(t *testing.T) {
	c := Default()
	assert.Equal(t, "Kardiologia", c.TargetDepartment("bol_w_klatce", 1))
	assert.Equal(t, "SOR", c.TargetDepartment(NoTemplate, 2))
	assert.Equal(t, "Interna", c.TargetDepartment("unheard_of", 5))
}

func TestMaxOccupancy(t *testing.T) {
	c := Default()
	got, err := c.MaxOccupancy("SOR", 1.1)
	require.NoError(t, err)
	assert.Equal(t, 27, got)

	_, err = c.MaxOccupancy("Psychiatria", 1.1)
	assert.True(t, errors.Is(err, ErrUnknownDepartment))
}

func TestValidateRejectsBadTables(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Catalog)
	}{
		{"duplicate department", func(c *Catalog) { c.Departments = append(c.Departments, c.Departments[0]) }},
		{"zero capacity", func(c *Catalog) { c.Departments[1].Capacity = 0 }},
		{"unknown primary", func(c *Catalog) { c.Templates[0].Primary = "Psychiatria" }},
		{"dangling alias", func(c *Catalog) { c.Aliases["x"] = "missing" }},
		{"missing category", func(c *Catalog) { delete(c.CategoryDepartments, 3) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	body := `
departments:
  - name: SOR
    capacity: 10
    kind: emergency
  - name: Interna
    capacity: 20
templates:
  - key: bol_brzucha
    primary: Interna
    compatible: [Interna, SOR]
aliases:
  abdominal pain: bol_brzucha
category_departments:
  1: SOR
  2: SOR
  3: Interna
  4: Interna
  5: Interna
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOR", "Interna"}, c.DepartmentNames())
	assert.Equal(t, []string{"bol_brzucha"}, c.TemplateKeys())
	assert.Equal(t, models.KindStandard, c.Departments[1].Kind)
}

func TestLoadKeepsAliasKeysVerbatim(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"catalog.yaml": `
aliases:
  STEMI-X: bol_w_klatce
  dot.key: udar
  Ból Brzucha: bol_brzucha
`,
		"catalog.json": `{"aliases": {"STEMI-X": "bol_w_klatce", "dot.key": "udar", "Ból Brzucha": "bol_brzucha"}}`,
		"catalog.toml": `
[aliases]
"STEMI-X" = "bol_w_klatce"
"dot.key" = "udar"
"Ból Brzucha" = "bol_brzucha"
`,
	}
	want := map[string]string{"STEMI-X": "bol_w_klatce", "dot.key": "udar", "Ból Brzucha": "bol_brzucha"}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			c, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, want, c.Aliases)
			assert.Equal(t, Default().DepartmentNames(), c.DepartmentNames())
		})
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.Templates, 20)
}

func TestIsHoliday(t *testing.T) {
	c := Default()
	assert.True(t, c.IsHoliday(12, 25))
	assert.False(t, c.IsHoliday(3, 14))
}

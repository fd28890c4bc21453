package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/clinic_triage/backend/internal/models"
)

var ErrUnknownDepartment = errors.New("unknown department")

// NoTemplate is the template key used when a case template cannot be resolved.
const NoTemplate = "none"

const (
	DefaultCompatibilityFloor = 0.1
	criticalFallbackWeight    = 0.8
	weightStep                = 0.2
	minListedWeight           = 0.4
)

type Template struct {
	Key         string   `json:"key" mapstructure:"key"`
	Primary     string   `json:"primary" mapstructure:"primary"`
	Compatible  []string `json:"compatible" mapstructure:"compatible"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
}

// Catalog holds the static hospital tables. It is read-only after Validate.
type Catalog struct {
	Departments         []models.Department `json:"departments" mapstructure:"departments"`
	Templates           []Template          `json:"templates" mapstructure:"templates"`
	Aliases             map[string]string   `json:"aliases" mapstructure:"aliases"`
	CategoryDepartments map[int]string      `json:"category_departments" mapstructure:"category_departments"`
	CriticalDepartment  string              `json:"critical_department" mapstructure:"critical_department"`
	CompatibilityFloor  float64             `json:"compatibility_floor" mapstructure:"compatibility_floor"`
	Holidays            []string            `json:"holidays" mapstructure:"holidays"`

	deptIndex     map[string]int
	templateIndex map[string]int
	holidaySet    map[string]struct{}
}

func Default() *Catalog {
	c := &Catalog{
		Departments: []models.Department{
			{Name: "SOR", Capacity: 25, Kind: models.KindEmergency},
			{Name: "Interna", Capacity: 50, Kind: models.KindStandard},
			{Name: "Kardiologia", Capacity: 30, Kind: models.KindStandard},
			{Name: "Chirurgia", Capacity: 35, Kind: models.KindElective},
			{Name: "Ortopedia", Capacity: 25, Kind: models.KindElective},
			{Name: "Neurologia", Capacity: 20, Kind: models.KindStandard},
			{Name: "Pediatria", Capacity: 30, Kind: models.KindStandard},
			{Name: "Ginekologia", Capacity: 20, Kind: models.KindElective},
		},
		Templates: []Template{
			{Key: "bol_w_klatce", Primary: "Kardiologia", Compatible: []string{"Kardiologia", "SOR", "Interna"}},
			{Key: "udar", Primary: "Neurologia", Compatible: []string{"Neurologia", "SOR"}},
			{Key: "zlamanie_konczyny", Primary: "Ortopedia", Compatible: []string{"Ortopedia", "SOR", "Chirurgia"}},
			{Key: "zapalenie_wyrostka", Primary: "Chirurgia", Compatible: []string{"Chirurgia", "SOR"}},
			{Key: "zapalenie_pluc", Primary: "Interna", Compatible: []string{"Interna", "SOR"}},
			{Key: "zaostrzenie_astmy", Primary: "Interna", Compatible: []string{"Interna", "SOR", "Pediatria"}},
			{Key: "infekcja_ukladu_moczowego", Primary: "Interna", Compatible: []string{"Interna", "SOR", "Ginekologia"}},
			{Key: "uraz_glowy", Primary: "Neurologia", Compatible: []string{"Neurologia", "SOR", "Chirurgia"}},
			{Key: "bol_brzucha", Primary: "Interna", Compatible: []string{"Interna", "Chirurgia", "Ginekologia", "SOR"}},
			{Key: "zatrucie_pokarmowe", Primary: "Interna", Compatible: []string{"Interna", "SOR", "Pediatria"}},
			{Key: "krwawienie_z_przewodu_pokarmowego", Primary: "Chirurgia", Compatible: []string{"Chirurgia", "Interna", "SOR"}},
			{Key: "migrena", Primary: "Neurologia", Compatible: []string{"Neurologia", "SOR"}},
			{Key: "zaostrzenie_pochp", Primary: "Interna", Compatible: []string{"Interna", "SOR"}},
			{Key: "omdlenie", Primary: "SOR", Compatible: []string{"SOR", "Kardiologia", "Neurologia", "Interna"}},
			{Key: "reakcja_alergiczna", Primary: "SOR", Compatible: []string{"SOR", "Interna", "Pediatria"}},
			{Key: "napad_padaczkowy", Primary: "Neurologia", Compatible: []string{"Neurologia", "SOR"}},
			{Key: "silne_krwawienie", Primary: "SOR", Compatible: []string{"SOR", "Chirurgia"}},
			{Key: "uraz_wielonarzadowy", Primary: "SOR", Compatible: []string{"SOR", "Chirurgia", "Ortopedia"}},
			{Key: "zaburzenia_rytmu_serca", Primary: "Kardiologia", Compatible: []string{"Kardiologia", "SOR", "Interna"}},
			{Key: "zapalenie_opon_mozgowych", Primary: "Neurologia", Compatible: []string{"Neurologia", "SOR", "Interna", "Pediatria"}},
		},
		Aliases: map[string]string{
			"STEMI":                     "bol_w_klatce",
			"zawał_STEMI":               "bol_w_klatce",
			"chest pain":                "bol_w_klatce",
			"ból w klatce piersiowej":   "bol_w_klatce",
			"simple fracture":           "zlamanie_konczyny",
			"złamanie_proste":           "zlamanie_konczyny",
			"złamanie kończyny":         "zlamanie_konczyny",
			"skręcenie_lekkie":          "zlamanie_konczyny",
			"stroke":                    "udar",
			"udar_ciężki":               "udar",
			"appendicitis":              "zapalenie_wyrostka",
			"pneumonia":                 "zapalenie_pluc",
			"zapalenie_płuc_ciężkie":    "zapalenie_pluc",
			"asthma":                    "zaostrzenie_astmy",
			"uti":                       "infekcja_ukladu_moczowego",
			"infekcja_moczu":            "infekcja_ukladu_moczowego",
			"head injury":               "uraz_glowy",
			"abdominal pain":            "bol_brzucha",
			"ból_brzucha_łagodny":       "bol_brzucha",
			"food poisoning":            "zatrucie_pokarmowe",
			"gi bleeding":               "krwawienie_z_przewodu_pokarmowego",
			"migraine":                  "migrena",
			"copd":                      "zaostrzenie_pochp",
			"syncope":                   "omdlenie",
			"anaphylaxis":               "reakcja_alergiczna",
			"allergic reaction":         "reakcja_alergiczna",
			"seizure":                   "napad_padaczkowy",
			"severe bleeding":           "silne_krwawienie",
			"polytrauma":                "uraz_wielonarzadowy",
			"uraz_wielonarządowy":       "uraz_wielonarzadowy",
			"arrhythmia":                "zaburzenia_rytmu_serca",
			"meningitis":                "zapalenie_opon_mozgowych",
			"zapalenie opon mózgowych":  "zapalenie_opon_mozgowych",
			"zaostrzenie POChP":         "zaostrzenie_pochp",
			"infekcja układu moczowego": "infekcja_ukladu_moczowego",
		},
		CategoryDepartments: map[int]string{1: "SOR", 2: "SOR", 3: "Interna", 4: "Interna", 5: "Interna"},
		CriticalDepartment:  "SOR",
		CompatibilityFloor:  DefaultCompatibilityFloor,
		Holidays:            []string{"01-01", "01-06", "05-01", "05-03", "08-15", "11-01", "11-11", "12-25", "12-26"},
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog override file (yaml, json or toml). An empty path
// returns the built-in catalog. Alias keys are kept exactly as written.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	base := Default()
	c := &Catalog{
		CriticalDepartment: base.CriticalDepartment,
		CompatibilityFloor: base.CompatibilityFloor,
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	aliases, err := readAliases(path)
	if err != nil {
		return nil, fmt.Errorf("decode catalog aliases %s: %w", path, err)
	}
	if aliases != nil {
		c.Aliases = aliases
	}
	if len(c.Departments) == 0 {
		c.Departments = base.Departments
	}
	if len(c.Templates) == 0 {
		c.Templates = base.Templates
	}
	if c.Aliases == nil {
		c.Aliases = base.Aliases
	}
	if len(c.CategoryDepartments) == 0 {
		c.CategoryDepartments = base.CategoryDepartments
	}
	if c.Holidays == nil {
		c.Holidays = base.Holidays
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// aliasFile is decoded straight from the file because viper lowercases keys.
type aliasFile struct {
	Aliases map[string]string `json:"aliases" yaml:"aliases" toml:"aliases"`
}

func readAliases(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f aliasFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &f)
	case ".toml":
		err = toml.Unmarshal(raw, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &f)
	default:
		return nil, nil
	}
	return f.Aliases, err
}

// Validate checks referential integrity and builds lookup indexes.
func (c *Catalog) Validate() error {
	if len(c.Departments) == 0 {
		return errors.New("catalog: no departments")
	}
	c.deptIndex = make(map[string]int, len(c.Departments))
	for i, d := range c.Departments {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("catalog: department %d has no name", i)
		}
		if _, dup := c.deptIndex[d.Name]; dup {
			return fmt.Errorf("catalog: duplicate department %q", d.Name)
		}
		if d.Capacity <= 0 {
			return fmt.Errorf("catalog: department %q has capacity %d", d.Name, d.Capacity)
		}
		if d.Kind == "" {
			c.Departments[i].Kind = models.KindStandard
		}
		c.deptIndex[d.Name] = i
	}

	if _, ok := c.deptIndex[c.CriticalDepartment]; !ok {
		return fmt.Errorf("catalog: critical department %q: %w", c.CriticalDepartment, ErrUnknownDepartment)
	}
	for cat := 1; cat <= 5; cat++ {
		name, ok := c.CategoryDepartments[cat]
		if !ok {
			return fmt.Errorf("catalog: no default department for category %d", cat)
		}
		if _, ok := c.deptIndex[name]; !ok {
			return fmt.Errorf("catalog: category %d department %q: %w", cat, name, ErrUnknownDepartment)
		}
	}

	c.templateIndex = make(map[string]int, len(c.Templates))
	for i, t := range c.Templates {
		if t.Key == "" || t.Key == NoTemplate {
			return fmt.Errorf("catalog: invalid template key %q", t.Key)
		}
		if _, dup := c.templateIndex[t.Key]; dup {
			return fmt.Errorf("catalog: duplicate template %q", t.Key)
		}
		if _, ok := c.deptIndex[t.Primary]; !ok {
			return fmt.Errorf("catalog: template %q primary %q: %w", t.Key, t.Primary, ErrUnknownDepartment)
		}
		for _, d := range t.Compatible {
			if _, ok := c.deptIndex[d]; !ok {
				return fmt.Errorf("catalog: template %q compatible %q: %w", t.Key, d, ErrUnknownDepartment)
			}
		}
		if len(t.Compatible) == 0 || t.Compatible[0] != t.Primary {
			c.Templates[i].Compatible = append([]string{t.Primary}, without(t.Compatible, t.Primary)...)
		}
		c.templateIndex[t.Key] = i
	}
	for alias, target := range c.Aliases {
		if _, ok := c.templateIndex[target]; !ok {
			return fmt.Errorf("catalog: alias %q points to unknown template %q", alias, target)
		}
	}

	if c.CompatibilityFloor <= 0 || c.CompatibilityFloor >= 1 {
		c.CompatibilityFloor = DefaultCompatibilityFloor
	}
	c.holidaySet = make(map[string]struct{}, len(c.Holidays))
	for _, h := range c.Holidays {
		c.holidaySet[h] = struct{}{}
	}
	return nil
}

func (c *Catalog) Department(name string) (models.Department, bool) {
	i, ok := c.deptIndex[name]
	if !ok {
		return models.Department{}, false
	}
	return c.Departments[i], true
}

func (c *Catalog) DepartmentNames() []string {
	out := make([]string, len(c.Departments))
	for i, d := range c.Departments {
		out[i] = d.Name
	}
	return out
}

// MaxOccupancy is the hard bed limit including overflow beds.
func (c *Catalog) MaxOccupancy(name string, overflow float64) (int, error) {
	d, ok := c.Department(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDepartment, name)
	}
	return int(math.Floor(float64(d.Capacity) * overflow)), nil
}

func (c *Catalog) Template(key string) (Template, bool) {
	i, ok := c.templateIndex[key]
	if !ok {
		return Template{}, false
	}
	return c.Templates[i], true
}

func (c *Catalog) TemplateKeys() []string {
	out := make([]string, len(c.Templates))
	for i, t := range c.Templates {
		out[i] = t.Key
	}
	return out
}

// CategoryDepartment is the static per-category default.
func (c *Catalog) CategoryDepartment(category int) string {
	if name, ok := c.CategoryDepartments[category]; ok {
		return name
	}
	return c.CriticalDepartment
}

// TargetDepartment is the template's primary department, or the category
// default when the template is unknown.
func (c *Catalog) TargetDepartment(template string, category int) string {
	if t, ok := c.Template(template); ok {
		return t.Primary
	}
	return c.CategoryDepartment(category)
}

// Compatibility returns a weight for every department. Unknown templates are
// treated as compatible with the category default and the critical department.
func (c *Catalog) Compatibility(template string, category int) map[string]float64 {
	out := make(map[string]float64, len(c.Departments))
	for _, d := range c.Departments {
		out[d.Name] = c.CompatibilityFloor
	}

	t, ok := c.Template(template)
	if !ok {
		if c.CategoryDepartment(category) != c.CriticalDepartment {
			out[c.CriticalDepartment] = criticalFallbackWeight
		}
		out[c.CategoryDepartment(category)] = 1.0
		return out
	}

	w := 1.0
	for _, d := range t.Compatible {
		out[d] = w
		w = math.Max(minListedWeight, w-weightStep)
	}
	return out
}

// IsCompatible reports whether weight clears the compatibility floor.
func (c *Catalog) IsCompatible(weight float64) bool {
	return weight > c.CompatibilityFloor
}

func (c *Catalog) IsHoliday(month, day int) bool {
	_, ok := c.holidaySet[fmt.Sprintf("%02d-%02d", month, day)]
	return ok
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

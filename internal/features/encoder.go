package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

const DefaultSchemaVersion = "triage-v2"

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrSchemaMismatch   = errors.New("feature schema mismatch")
)

// ValidationError lists every offending field with a readable reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// Neutral values substituted for vitals that were not measured.
const (
	DefaultHeartRate       = 75.0
	DefaultSystolicBP      = 120.0
	DefaultDiastolicBP     = 80.0
	DefaultTemperature     = 36.6
	DefaultSpO2            = 98.0
	DefaultConsciousness   = 15
	DefaultPain            = 0
	DefaultRespiratoryRate = 18.0
	DefaultHoursSinceOnset = 0.0
)

var numericColumns = []string{
	"age", "heart_rate", "systolic_bp", "diastolic_bp", "temperature", "spo2",
	"consciousness", "pain", "respiratory_rate", "hours_since_onset",
}

var timeColumns = []string{"hour", "weekday", "month", "is_weekend"}

const templateColumnPrefix = "template_"

type Options struct {
	SchemaVersion string
	IncludeTime   bool
	Now           func() time.Time
}

// Encoder turns PatientVitals into the classifier's feature layout. It holds
// no mutable state and is safe for concurrent use.
type Encoder struct {
	version     string
	includeTime bool
	templates   []string
	index       templateIndex
	columns     []string
	validate    *validator.Validate
	now         func() time.Time
}

func NewEncoder(c *catalog.Catalog, opts Options) *Encoder {
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = DefaultSchemaVersion
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Encoder{
		version:     opts.SchemaVersion,
		includeTime: opts.IncludeTime,
		templates:   c.TemplateKeys(),
		index:       newTemplateIndex(c),
		validate:    validator.New(),
		now:         opts.Now,
	}
	e.columns = append(e.columns, numericColumns...)
	e.columns = append(e.columns, "sex_male")
	if e.includeTime {
		e.columns = append(e.columns, timeColumns...)
	}
	for _, key := range e.templates {
		e.columns = append(e.columns, templateColumnPrefix+key)
	}
	return e
}

func (e *Encoder) SchemaVersion() string { return e.version }

func (e *Encoder) Columns() []string {
	out := make([]string, len(e.columns))
	copy(out, e.columns)
	return out
}

// TemplateColumn returns the column name of a template one-hot.
func TemplateColumn(key string) string { return templateColumnPrefix + key }

// NormalizeTemplate resolves free-text case templates to a canonical key.
func (e *Encoder) NormalizeTemplate(raw string) string {
	return e.index.resolve(raw)
}

// CheckSchema fails when a model expects a different layout.
func (e *Encoder) CheckSchema(version string, width int) error {
	if version != "" && version != e.version {
		return fmt.Errorf("%w: model expects %s, encoder produces %s", ErrSchemaMismatch, version, e.version)
	}
	if width > 0 && width != len(e.columns) {
		return fmt.Errorf("%w: model expects %d columns, encoder produces %d", ErrSchemaMismatch, width, len(e.columns))
	}
	return nil
}

func (e *Encoder) Validate(v models.PatientVitals) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		out.Fields[jsonName(fe.Field())] = describe(fe)
	}
	return out
}

// Encode validates v and produces the feature vector. The same input at the
// same clock instant always yields the same vector.
func (e *Encoder) Encode(v models.PatientVitals) (models.FeatureVector, error) {
	if err := e.Validate(v); err != nil {
		return models.FeatureVector{}, err
	}

	var defaulted []string
	f := func(p *float64, def float64, name string) float64 {
		if p == nil {
			defaulted = append(defaulted, name)
			return def
		}
		return *p
	}
	i := func(p *int, def int, name string) float64 {
		if p == nil {
			defaulted = append(defaulted, name)
			return float64(def)
		}
		return float64(*p)
	}

	values := make([]float64, 0, len(e.columns))
	values = append(values,
		float64(*v.Age),
		f(v.HeartRate, DefaultHeartRate, "heart_rate"),
		f(v.SystolicBP, DefaultSystolicBP, "systolic_bp"),
		f(v.DiastolicBP, DefaultDiastolicBP, "diastolic_bp"),
		f(v.Temperature, DefaultTemperature, "temperature"),
		f(v.SpO2, DefaultSpO2, "spo2"),
		i(v.Consciousness, DefaultConsciousness, "consciousness"),
		i(v.Pain, DefaultPain, "pain"),
		f(v.RespiratoryRate, DefaultRespiratoryRate, "respiratory_rate"),
		f(v.HoursSinceOnset, DefaultHoursSinceOnset, "hours_since_onset"),
	)

	if v.Sex == models.SexMale {
		values = append(values, 1)
	} else {
		values = append(values, 0)
	}

	if e.includeTime {
		now := e.now().UTC()
		weekend := 0.0
		if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
			weekend = 1
		}
		values = append(values,
			float64(now.Hour()),
			float64(mondayFirst(now.Weekday())),
			float64(now.Month()),
			weekend,
		)
	}

	template := e.NormalizeTemplate(v.CaseTemplate)
	for _, key := range e.templates {
		if key == template {
			values = append(values, 1)
		} else {
			values = append(values, 0)
		}
	}

	return models.FeatureVector{
		SchemaVersion: e.version,
		Values:        values,
		Template:      template,
		Defaulted:     defaulted,
	}, nil
}

// mondayFirst numbers weekdays Monday=0 .. Sunday=6.
func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

var fieldNames = map[string]string{
	"PatientRef":      "patient_ref",
	"Age":             "age",
	"Sex":             "sex",
	"HeartRate":       "heart_rate",
	"SystolicBP":      "systolic_bp",
	"DiastolicBP":     "diastolic_bp",
	"Temperature":     "temperature",
	"SpO2":            "spo2",
	"Consciousness":   "consciousness",
	"Pain":            "pain",
	"RespiratoryRate": "respiratory_rate",
	"HoursSinceOnset": "hours_since_onset",
	"CaseTemplate":    "case_template",
}

func jsonName(field string) string {
	if n, ok := fieldNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag()
	}
}

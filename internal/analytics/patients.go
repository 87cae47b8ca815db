package analytics

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// DefaultConditionLimit is the number of conditions Demographics reports.
const DefaultConditionLimit = 10

// AgeBand counts patients within an inclusive age range. Max is nil for the
// open-ended top band.
type AgeBand struct {
	Label string `json:"label"`
	Min   int    `json:"min_age"`
	Max   *int   `json:"max_age"`
	Count int    `json:"count"`
}

func (b AgeBand) contains(age int) bool {
	return age >= b.Min && (b.Max == nil || age <= *b.Max)
}

func band(label string, lo, hi int) AgeBand {
	return AgeBand{Label: label, Min: lo, Max: &hi}
}

// AgeBands returns the fixed bands in ascending order.
func AgeBands() []AgeBand {
	return []AgeBand{
		band("0-17", 0, 17),
		band("18-34", 18, 34),
		band("35-54", 35, 54),
		band("55-74", 55, 74),
		{Label: "75+", Min: 75},
	}
}

// GenderCount counts patients of one gender.
type GenderCount struct {
	Gender pharmacy.Gender `json:"gender"`
	Count  int             `json:"count"`
}

// ConditionStat groups patients by primary condition.
type ConditionStat struct {
	Condition  string  `json:"condition"`
	Patients   int     `json:"patients"`
	AverageAge float64 `json:"average_age"`
}

// Demographics is the patient population breakdown.
type Demographics struct {
	AsOf          time.Time       `json:"as_of"`
	TotalPatients int             `json:"total_patients"`
	AverageAge    float64         `json:"average_age"`
	AgeBands      []AgeBand       `json:"age_bands"`
	Genders       []GenderCount   `json:"genders"`
	TopConditions []ConditionStat `json:"top_conditions"`
}

// PatientDemographics buckets patients by age on asOf, counts genders and
// ranks primary conditions by patient count descending then name. Every band
// is present even when empty. A non-positive limit selects
// DefaultConditionLimit.
func PatientDemographics(patients []pharmacy.Patient, asOf time.Time, limit int) Demographics {
	if limit <= 0 {
		limit = DefaultConditionLimit
	}
	asOf = pharmacy.Date(asOf)
	out := Demographics{
		AsOf:          asOf,
		TotalPatients: len(patients),
		AgeBands:      AgeBands(),
		Genders:       []GenderCount{},
		TopConditions: []ConditionStat{},
	}

	genders := map[pharmacy.Gender]int{}
	type condAcc struct {
		patients int
		ageSum   int
	}
	conditions := map[string]*condAcc{}
	ageSum := 0
	for _, p := range patients {
		age := pharmacy.Age(p.DateOfBirth, asOf)
		ageSum += age
		for i := range out.AgeBands {
			if out.AgeBands[i].contains(age) {
				out.AgeBands[i].Count++
				break
			}
		}
		genders[p.Gender]++
		if p.PrimaryCondition == "" {
			continue
		}
		c, ok := conditions[p.PrimaryCondition]
		if !ok {
			c = &condAcc{}
			conditions[p.PrimaryCondition] = c
		}
		c.patients++
		c.ageSum += age
	}
	if len(patients) > 0 {
		out.AverageAge = round1(float64(ageSum) / float64(len(patients)))
	}

	for g, n := range genders {
		out.Genders = append(out.Genders, GenderCount{Gender: g, Count: n})
	}
	slices.SortFunc(out.Genders, func(a, b GenderCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(string(a.Gender), string(b.Gender))
	})

	for name, c := range conditions {
		out.TopConditions = append(out.TopConditions, ConditionStat{
			Condition:  name,
			Patients:   c.patients,
			AverageAge: round1(float64(c.ageSum) / float64(c.patients)),
		})
	}
	slices.SortFunc(out.TopConditions, func(a, b ConditionStat) int {
		if c := cmp.Compare(b.Patients, a.Patients); c != 0 {
			return c
		}
		return strings.Compare(a.Condition, b.Condition)
	})
	if len(out.TopConditions) > limit {
		out.TopConditions = out.TopConditions[:limit]
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

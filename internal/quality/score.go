package quality

import (
	"slices"
	"time"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// TableScore is the weighted quality score of one table.
type TableScore struct {
	Table   string  `json:"table"`
	Score   float64 `json:"score"`
	Checks  int     `json:"checks"`
	Failing int     `json:"failing"`
}

// Summary aggregates the latest check of every table.
type Summary struct {
	Tables    []TableScore `json:"tables"`
	Overall   float64      `json:"overall"`
	Grade     string       `json:"grade"`
	CheckedAt *time.Time   `json:"checked_at,omitempty"`
}

// Latest keeps the most recent entry per table and check.
func Latest(entries []pharmacy.QualityLogEntry) []pharmacy.QualityLogEntry {
	type key struct{ table, check string }
	latest := make(map[key]pharmacy.QualityLogEntry, len(entries))
	for _, e := range entries {
		k := key{e.TableName, e.CheckName}
		prev, ok := latest[k]
		if !ok || e.CheckedAt.After(prev.CheckedAt) || (e.CheckedAt.Equal(prev.CheckedAt) && e.ID > prev.ID) {
			latest[k] = e
		}
	}
	out := make([]pharmacy.QualityLogEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b pharmacy.QualityLogEntry) int {
		if c := tableOrder(a.TableName) - tableOrder(b.TableName); c != 0 {
			return c
		}
		if a.CheckName < b.CheckName {
			return -1
		}
		if a.CheckName > b.CheckName {
			return 1
		}
		return 0
	})
	return out
}

func tableOrder(name string) int {
	if i := slices.Index(Tables, name); i >= 0 {
		return i
	}
	return len(Tables)
}

// Score returns 1 minus the weighted mean issue rate per table. Checks that
// examined no records do not count.
func Score(entries []pharmacy.QualityLogEntry, weights map[string]float64) map[string]float64 {
	type acc struct{ weighted, total float64 }
	sums := map[string]*acc{}
	for _, e := range entries {
		a, ok := sums[e.TableName]
		if !ok {
			a = &acc{}
			sums[e.TableName] = a
		}
		if e.RecordsChecked == 0 {
			continue
		}
		w := weight(weights, e.CheckName)
		a.weighted += w * e.IssueRate
		a.total += w
	}
	scores := make(map[string]float64, len(sums))
	for table, a := range sums {
		if a.total == 0 {
			scores[table] = 1
			continue
		}
		scores[table] = 1 - a.weighted/a.total
	}
	return scores
}

func weight(weights map[string]float64, check string) float64 {
	if w, ok := weights[check]; ok && w >= 0 {
		return w
	}
	return 1
}

// Summarize scores the latest entry of each check and grades the mean of the
// table scores.
func Summarize(entries []pharmacy.QualityLogEntry, weights map[string]float64) Summary {
	latest := Latest(entries)
	scores := Score(latest, weights)

	summary := Summary{Tables: []TableScore{}}
	for _, e := range latest {
		if summary.CheckedAt == nil || e.CheckedAt.After(*summary.CheckedAt) {
			at := e.CheckedAt
			summary.CheckedAt = &at
		}
	}
	for _, table := range Tables {
		score, ok := scores[table]
		if !ok {
			continue
		}
		ts := TableScore{Table: table, Score: score}
		for _, e := range latest {
			if e.TableName != table {
				continue
			}
			ts.Checks++
			if e.Status == pharmacy.QualityFail {
				ts.Failing++
			}
		}
		summary.Tables = append(summary.Tables, ts)
		summary.Overall += score
	}
	if n := len(summary.Tables); n > 0 {
		summary.Overall /= float64(n)
	} else {
		summary.Overall = 1
	}
	summary.Grade = Grade(summary.Overall)
	return summary
}

// Grade maps a score in [0,1] onto a letter.
func Grade(score float64) string {
	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

package caller

import (
	"sort"
	"strings"
)

// Feature is a coarse tag extracted from the behavior summary.
type Feature string

const (
	FeatureReport    Feature = "report"
	FeatureExport    Feature = "export"
	FeatureDashboard Feature = "dashboard"
	FeatureBatch     Feature = "batch"
	FeatureRecurring Feature = "recurring"
	FeaturePeakHours Feature = "peak_hours"
	FeatureRepeated  Feature = "repeated"
)

var featureKeywords = map[string]Feature{
	"report":    FeatureReport,
	"reports":   FeatureReport,
	"reporting": FeatureReport,
	"summary":   FeatureReport,
	"summarize": FeatureReport,
	"export":    FeatureExport,
	"exports":   FeatureExport,
	"download":  FeatureExport,
	"csv":       FeatureExport,
	"dashboard": FeatureDashboard,
	"batch":     FeatureBatch,
	"bulk":      FeatureBatch,
	"nightly":   FeatureRecurring,
	"daily":     FeatureRecurring,
	"weekly":    FeatureRecurring,
	"monthly":   FeatureRecurring,
	"recurring": FeatureRecurring,
	"scheduled": FeatureRecurring,
	"peak":      FeaturePeakHours,
	"repeat":    FeatureRepeated,
	"repeated":  FeatureRepeated,
	"refresh":   FeatureRepeated,
	"polling":   FeatureRepeated,
}

// Features extracts keyword features from a behavior summary.
// Output is sorted and free of duplicates.
func Features(summary string) []Feature {
	if summary == "" {
		return nil
	}

	seen := make(map[Feature]bool)
	words := strings.FieldsFunc(strings.ToLower(summary), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	for _, w := range words {
		if f, ok := featureKeywords[w]; ok {
			seen[f] = true
		}
	}

	out := make([]Feature, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the summary carries any of the given features.
func (c Context) Has(features ...Feature) bool {
	got := Features(c.BehaviorSummary)
	for _, g := range got {
		for _, f := range features {
			if g == f {
				return true
			}
		}
	}
	return false
}

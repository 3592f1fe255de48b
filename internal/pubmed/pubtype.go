package pubmed

import "strings"

// typeVariants maps a canonical publication type to the spellings that
// fold into it. Order matters: the first canonical type whose variant
// occurs in the label wins.
var typeVariants = []struct {
	canonical string
	variants  []string
}{
	{"clinical trial", []string{"clinical trial", "clinical study", "clinical research", "interventional study"}},
	{"randomized controlled trial", []string{"randomized controlled trial", "randomised controlled trial", "rct"}},
	{"systematic review", []string{"systematic review", "systematic literature review", "systematic analysis"}},
	{"meta analysis", []string{"meta analysis", "metaanalysis", "meta analytical study"}},
	{"case report", []string{"case report", "case study", "patient case"}},
	{"review", []string{"review", "literature review", "narrative review"}},
	{"comparative study", []string{"comparative study", "comparison study", "comparative analysis"}},
	{"observational study", []string{"observational study", "observational research"}},
	{"cohort study", []string{"cohort study", "cohort analysis"}},
	{"case control study", []string{"case control study", "case control"}},
}

// NormalizeType folds a publication type label into its canonical form.
// Unknown labels are returned lower-cased with '-' and '/' as spaces.
func NormalizeType(label string) string {
	n := strings.ToLower(label)
	n = strings.NewReplacer("-", " ", "/", " ").Replace(n)
	n = strings.Join(strings.Fields(n), " ")
	for _, tv := range typeVariants {
		for _, v := range tv.variants {
			if strings.Contains(n, v) {
				return tv.canonical
			}
		}
	}
	return n
}

// MatchType reports whether an article with the given publication types
// satisfies a requested type label.
func MatchType(requested string, types []string) bool {
	want := NormalizeType(requested)
	if want == "" {
		return false
	}
	for _, t := range types {
		if strings.Contains(NormalizeType(t), want) {
			return true
		}
	}
	return false
}

func normalizeTypes(labels []string) []string {
	var out []string
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		n := NormalizeType(l)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

package probe

import (
	"strconv"
	"strings"
)

// StatusAccepted reports whether an HTTP status code matches the accepted
// specs. Each spec is an exact code ("200"), an inclusive range ("200-299"),
// or a wildcard class ("2xx"). An empty spec list means 200-299. Malformed
// specs are ignored.
func StatusAccepted(code int, specs []string) bool {
	if len(specs) == 0 {
		return code >= 200 && code <= 299
	}
	for _, spec := range specs {
		if statusSpecMatches(code, strings.TrimSpace(spec)) {
			return true
		}
	}
	return false
}

func statusSpecMatches(code int, spec string) bool {
	if spec == "" {
		return false
	}

	lower := strings.ToLower(spec)
	if strings.HasSuffix(lower, "xx") && len(lower) == 3 {
		class, err := strconv.Atoi(lower[:1])
		if err != nil {
			return false
		}
		return code/100 == class
	}

	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		min, err1 := strconv.Atoi(strings.TrimSpace(lo))
		max, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return false
		}
		return code >= min && code <= max
	}

	exact, err := strconv.Atoi(spec)
	if err != nil {
		return false
	}
	return code == exact
}

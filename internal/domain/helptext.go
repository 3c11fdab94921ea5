package domain

import (
	"fmt"
	"sort"
	"strings"
)

// MakeCommaSeparatedHelpText renders the available values for a multi-valued
// query parameter as human-readable API documentation.
func MakeCommaSeparatedHelpText(values []string, name string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, v := range sorted {
		quoted[i] = "`" + v + "`"
	}
	if len(quoted) > 1 {
		quoted[len(quoted)-1] = "and " + quoted[len(quoted)-1]
	}

	return fmt.Sprintf(
		"A comma separated list of %s; available %s include: %s.",
		name, name, strings.Join(quoted, ", "),
	)
}

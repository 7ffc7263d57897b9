package main

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Diff is the classification of every path seen in either the previous or
// the current fingerprint set. Each path lands in exactly one list.
type Diff struct {
	New       []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

func (d Diff) Len() int {
	return len(d.New) + len(d.Modified) + len(d.Deleted) + len(d.Unchanged)
}

// Classify diffs two path -> fingerprint maps.
func Classify(previous, current map[string]string) Diff {
	previousPaths := mapset.NewThreadUnsafeSetWithSize[string](len(previous))
	for path := range previous {
		previousPaths.Add(path)
	}
	currentPaths := mapset.NewThreadUnsafeSetWithSize[string](len(current))
	for path := range current {
		currentPaths.Add(path)
	}

	diff := Diff{
		New:     sortedPaths(currentPaths.Difference(previousPaths)),
		Deleted: sortedPaths(previousPaths.Difference(currentPaths)),
	}
	for _, path := range sortedPaths(currentPaths.Intersect(previousPaths)) {
		if current[path] != previous[path] {
			diff.Modified = append(diff.Modified, path)
		} else {
			diff.Unchanged = append(diff.Unchanged, path)
		}
	}

	return diff
}

func sortedPaths(paths mapset.Set[string]) []string {
	sorted := paths.ToSlice()
	sort.Strings(sorted)
	return sorted
}

// SPDX-License-Identifier: MIT

package octree

import "sort"

// sortPoints sorts points in place, ascending by Key. Shared by every
// stage of the pipeline (SampleSorter's local sort and merge,
// distributed.go's post-transfer merge) that needs points ordered the
// same way Linearize/Complete/Balance order keys.
func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool { return points[i].Less(points[j]) })
}

// Package registry loads the signal map and holds the simulator's signal
// handles.
//
// The map is text, one signal per line:
//
//	<hierarchical path> <bit width> <word count>
//
// Ids start at 0 and advance by each signal's word count in file order, so
// a multi-word signal occupies a contiguous id range addressed by its first
// id. Blank lines and lines starting with '#' are skipped.
//
// A Registry is built once through a Builder and never changes afterwards.
// Paths that a backend resolves on its own (Backend.Search) are not cached
// back into it.
package registry

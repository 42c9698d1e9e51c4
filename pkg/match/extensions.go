package match

import (
	"path"
	"strings"
)

// extensionGroups lists extensions that name the same format
var extensionGroups = [][]string{
	{"jpg", "jpeg", "jpe", "jfif"},
	{"tif", "tiff"},
	{"jp2", "j2k", "jpf", "jpx", "jpm"},
	{"htm", "html"},
	{"yml", "yaml"},
	{"mid", "midi"},
	{"aif", "aiff", "aifc"},
	{"wav", "wave"},
	{"mpg", "mpeg", "mpe"},
	{"mp4", "m4v"},
	{"mov", "qt"},
}

var extensionGroup = func() map[string]int {
	m := make(map[string]int)
	for i, group := range extensionGroups {
		for _, ext := range group {
			m[ext] = i
		}
	}
	return m
}()

func normalizeExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// EquivalentExtensions reports whether two file names carry the same
// extension or extensions of the same format. Names without an extension
// only match each other.
func EquivalentExtensions(a, b string) bool {
	ea, eb := normalizeExt(a), normalizeExt(b)
	if ea == eb {
		return true
	}
	ga, okA := extensionGroup[ea]
	gb, okB := extensionGroup[eb]
	return okA && okB && ga == gb
}

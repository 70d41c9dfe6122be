package pypi

import "strings"

// Normalize returns the PEP 503 normalized form of a project name:
// lowercased, with every run of '-', '_' and '.' collapsed into a single '-'.
// Lookups and equality checks always use the normalized form, the raw name
// is only kept around for echoing back to clients.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	sep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-' || c == '_' || c == '.':
			sep = true
		default:
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			b.WriteByte(c)
		}
	}

	return b.String()
}

// NameEqual reports whether two project names refer to the same project
// after PEP 503 normalization.
func NameEqual(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// FileSafeName returns the escaped form of a project name as it appears in
// distribution filenames: the normalized name with '-' replaced by '_', so
// the name never collides with the '-' field separators of the filename.
func FileSafeName(name string) string {
	return strings.ReplaceAll(Normalize(name), "-", "_")
}

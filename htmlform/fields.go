// Package htmlform extracts login form state from the identity provider's server-rendered pages.
//
// Two page styles are supported: classic HTML forms (ParseForm) and pages that embed the
// form model as a JSON literal in a <script> block (ParseScriptModel).
package htmlform

import (
	"net/url"
	"sort"
)

// Fields is the data bag of a form: input name to value.
// A bag is produced by a parser and consumed once by the next POST.
type Fields map[string]string

// Form is the result of a parse: where to submit and what to submit.
type Form struct {
	// Target is the submission URL as found on the page, possibly relative.
	Target string
	Fields Fields
}

// Missing returns the keys that are not present in the bag, in the order given.
func (f Fields) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := f[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Has reports whether every key is present.
func (f Fields) Has(keys ...string) bool {
	return len(f.Missing(keys...)) == 0
}

// Values converts the bag for use as a form-encoded request body.
func (f Fields) Values() url.Values {
	v := make(url.Values, len(f))
	for k, val := range f {
		v.Set(k, val)
	}
	return v
}

// Encode returns the bag as application/x-www-form-urlencoded.
func (f Fields) Encode() string {
	return f.Values().Encode()
}

// Keys returns the field names sorted, mostly useful for diagnostics.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package partition builds hierarchical "name=value" partition paths from an
// ordered list of fields.
package partition

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrMissingField is returned when a field has an empty value.
	ErrMissingField = errors.New("missing partition field")
	// ErrDuplicateField is returned when two fields share a name.
	ErrDuplicateField = errors.New("duplicate partition field")
)

// Field is one level of a partition path. Values are slugified unless
// Verbatim is set.
type Field struct {
	Name     string
	Value    string
	Verbatim bool
}

// Segment returns the "name=value" representation of the field.
func (f Field) Segment() string {
	v := f.Value
	if !f.Verbatim {
		v = Slugify(v)
	}
	return f.Name + "=" + v
}

// Schema checks the fields and returns them in the same order with their
// values resolved (slugified where required). Resolved fields are marked
// Verbatim so resolving them again is a no-op.
func Schema(fields ...Field) ([]Field, error) {
	seen := make(map[string]bool, len(fields))
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: unnamed field", ErrMissingField)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true
		v := f.Value
		if !f.Verbatim {
			v = Slugify(v)
		}
		if v == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f.Name)
		}
		out = append(out, Field{Name: f.Name, Value: v, Verbatim: true})
	}
	return out, nil
}

// Path returns the relative partition path for fields, e.g.
// "keyword=phone-case/category=all".
func Path(fields ...Field) (string, error) {
	resolved, err := Schema(fields...)
	if err != nil {
		return "", err
	}
	segments := make([]string, len(resolved))
	for i, f := range resolved {
		segments[i] = f.Segment()
	}
	return strings.Join(segments, "/"), nil
}

// Build appends the partition path for fields under parent. Parent may be a
// local directory or a URI such as gs://bucket/prefix.
func Build(parent string, fields ...Field) (string, error) {
	p, err := Path(fields...)
	if err != nil {
		return "", err
	}
	return Join(parent, p), nil
}

// URL builds the public URL of a partition under base, followed by any
// extra path elements (e.g. "snapshot_date=latest", "data.json").
func URL(base string, fields []Field, tail ...string) (string, error) {
	p, err := Path(fields...)
	if err != nil {
		return "", err
	}
	return Join(append([]string{base, p}, tail...)...), nil
}

// Join concatenates path elements with single slashes. Unlike path.Join it
// leaves the "//" of a URI scheme alone.
func Join(elem ...string) string {
	var parts []string
	for i, e := range elem {
		if e == "" {
			continue
		}
		if i > 0 {
			e = strings.TrimLeft(e, "/")
		}
		if i < len(elem)-1 {
			e = strings.TrimRight(e, "/")
		}
		if e != "" || i == 0 {
			// A parent of "/" leaves an empty first part, keeping the root.
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Slugify case-folds s, removes diacritics and replaces every run of
// characters that are neither letters nor digits with a single hyphen.
// Letters of any script are kept, so "straße" becomes "strasse" and
// "手机壳" is unchanged.
func Slugify(s string) string {
	t := transform.Chain(cases.Fold(), norm.NFKD, stripMarks, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	hyphen := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

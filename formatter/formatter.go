// Package formatter provides serializers for the storage formats supported by
// the snapshot writer.
package formatter

import (
	"errors"
	"fmt"

	"github.com/trendy-data/trendy/trend"
)

// ErrUnknownFormat is returned by ByName for unsupported formats.
var ErrUnknownFormat = errors.New("unknown format")

// Formatter converts trend tables to and from one file format.
type Formatter interface {
	// Name is the format name, also used as file extension.
	Name() string
	Marshal(records []trend.Record) ([]byte, error)
	Unmarshal(data []byte) ([]trend.Record, error)
}

var formatters = map[string]Formatter{
	"csv":     CSV{},
	"parquet": Parquet{},
	"json":    JSON{},
}

// ByName returns the formatter for the given format name.
func ByName(name string) (Formatter, error) {
	f, ok := formatters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

package factory

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/metadata"
)

// ProjectFunc projects the metadata of the record at index onto M.
type ProjectFunc[M any] func(index int, md capability.Metadata) (M, error)

// Select returns a factory for every record providing T, in record order.
func Select[T any](records []capability.Record, loader Loader, opts ...Option) []*Factory[T] {
	id := capability.Of[T]()
	var out []*Factory[T]
	for _, rec := range records {
		if rec.Capability != id {
			continue
		}
		out = append(out, New[T](rec, loader, opts...))
	}
	return out
}

// SelectWhere is Select restricted to records whose metadata, projected onto M, satisfies
// pred. Records with no metadata never match. Records whose metadata cannot be projected are
// excluded and their errors returned joined, next to the factories that did match.
// A nil project uses metadata.Project.
func SelectWhere[T, M any](records []capability.Record, loader Loader, pred func(M) bool, project ProjectFunc[M], opts ...Option) ([]*Factory[T], error) {
	if project == nil {
		project = func(_ int, md capability.Metadata) (M, error) {
			return metadata.Project[M](md)
		}
	}

	id := capability.Of[T]()
	var (
		out  []*Factory[T]
		errs []error
	)
	for i, rec := range records {
		if rec.Capability != id || len(rec.Metadata) == 0 {
			continue
		}
		m, err := project(i, rec.Metadata)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s from %s: %w", rec.Type, rec.Source, err))
			continue
		}
		if pred != nil && !pred(m) {
			continue
		}
		out = append(out, New[T](rec, loader, opts...))
	}
	return out, errors.Join(errs...)
}

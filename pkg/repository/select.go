package repository

import (
	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/factory"
	"github.com/platinummonkey/hubcap/pkg/metadata"
)

// GetFactories returns a factory for every record of the current generation that provides T.
func GetFactories[T any](r Repository, opts ...factory.Option) []*factory.Factory[T] {
	return factory.Select[T](r.Generation().Records, r.Host(), opts...)
}

// GetFactoriesWhere is GetFactories restricted to records whose metadata, projected onto M,
// satisfies pred. Projections are cached for the lifetime of the generation.
func GetFactoriesWhere[T, M any](r Repository, pred func(M) bool, opts ...factory.Option) ([]*factory.Factory[T], error) {
	gen := r.Generation()
	project := func(i int, md capability.Metadata) (M, error) {
		return metadata.ProjectCached[M](gen.cache, i, md)
	}
	return factory.SelectWhere[T](gen.Records, r.Host(), pred, project, opts...)
}

package factory

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/metadata"
)

func reflectType[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

type langMeta struct {
	Language string `metadata:"language"`
	Rank     int    `metadata:"rank"`
}

func records() []capability.Record {
	greeter := capability.Of[Greeter]()
	return []capability.Record{
		{Source: "a", Type: "a.En", Capability: greeter, Metadata: capability.Metadata{"language": "en"}},
		{Source: "a", Type: "a.Count", Capability: capability.Of[Counter]()},
		{Source: "b", Type: "b.Fr", Capability: greeter, Metadata: capability.Metadata{"language": "fr", "rank": int64(2)}},
		{Source: "b", Type: "b.Plain", Capability: greeter},
		{Source: "c", Type: "c.Bad", Capability: greeter, Metadata: capability.Metadata{"rank": "first"}},
	}
}

func TestSelect(t *testing.T) {
	fs := Select[Greeter](records(), nil)
	require.Len(t, fs, 4)
	assert.Equal(t, []string{"a.En", "b.Fr", "b.Plain", "c.Bad"}, types(fs))

	assert.Len(t, Select[Counter](records(), nil), 1)
	assert.Empty(t, Select[Greeter](nil, nil))
}

func TestSelectWhere(t *testing.T) {
	fs, err := SelectWhere[Greeter](records(), nil, func(m langMeta) bool { return m.Language == "fr" }, nil)
	assert.ErrorIs(t, err, metadata.ErrConversion)
	assert.Equal(t, []string{"b.Fr"}, types(fs))
}

func TestSelectWhere_EmptyMetadataNeverMatches(t *testing.T) {
	fs, err := SelectWhere[Greeter](records()[:4], nil, func(langMeta) bool { return true }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.En", "b.Fr"}, types(fs))

	cs, err := SelectWhere[Counter](records(), nil, func(langMeta) bool { return true }, nil)
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestSelectWhere_ZeroValuesForMissingKeys(t *testing.T) {
	fs, err := SelectWhere[Greeter](records()[:4], nil, func(m langMeta) bool { return m.Rank == 0 }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.En"}, types(fs))
}

func TestSelectWhere_CustomProjection(t *testing.T) {
	var seen []int
	project := func(i int, md capability.Metadata) (langMeta, error) {
		seen = append(seen, i)
		if i == 2 {
			return langMeta{}, errors.New("projection failed")
		}
		return metadata.Project[langMeta](md)
	}

	fs, err := SelectWhere[Greeter](records()[:4], nil, func(langMeta) bool { return true }, project)
	assert.ErrorContains(t, err, "projection failed")
	assert.Equal(t, []string{"a.En"}, types(fs))
	assert.Equal(t, []int{0, 2}, seen)
}

func types[T any](fs []*Factory[T]) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Type())
	}
	return out
}

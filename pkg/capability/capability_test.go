package capability

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speaker interface {
	Speak() string
}

type listener interface {
	Listen() string
}

type parrot struct{}

func (*parrot) Speak() string  { return "hello" }
func (*parrot) Listen() string { return "..." }

func TestOf(t *testing.T) {
	assert.Equal(t, ID("github.com/platinummonkey/hubcap/pkg/capability.speaker"), Of[speaker]())
	assert.NotEqual(t, Of[speaker](), Of[listener]())
}

func TestTypeName_Pointer(t *testing.T) {
	typ := Export(func() *parrot { return &parrot{} })
	assert.Equal(t, "*github.com/platinummonkey/hubcap/pkg/capability.parrot", typ.Name)
}

func TestExport(t *testing.T) {
	typ := Export(func() *parrot { return &parrot{} },
		Provides[speaker](),
		Provides[listener](),
		Provides[speaker](),
		WithMetadata("Name", "polly"),
		WithMetadata("Priority", 3),
		WithMetadata("Weight", float32(1.5)),
	)

	require.NoError(t, typ.Validate())
	assert.Equal(t, []ID{Of[speaker](), Of[listener]()}, typ.Provides)
	assert.Equal(t, Metadata{"Name": "polly", "Priority": int64(3), "Weight": float64(1.5)}, typ.Metadata)
}

func TestExport_InvalidMetadata(t *testing.T) {
	typ := Export(func() *parrot { return &parrot{} },
		Provides[speaker](),
		WithMetadata("Tags", []string{"a"}),
	)
	assert.Error(t, typ.Validate())

	typ = Export(func() *parrot { return &parrot{} }, WithMetadata("", "x"))
	assert.Error(t, typ.Validate())

	for _, f := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		typ = Export(func() *parrot { return &parrot{} }, WithMetadata("Weight", f))
		assert.ErrorContains(t, typ.Validate(), "non-finite", "%v", f)
	}
	typ = Export(func() *parrot { return &parrot{} }, WithMetadata("Weight", float32(math.Inf(1))))
	assert.Error(t, typ.Validate())
}

func TestValidate_MissingConstructor(t *testing.T) {
	var typ *Type
	assert.Error(t, typ.Validate())

	assert.Error(t, (&Type{Name: "x"}).Validate())
	assert.Error(t, (&Type{New: func() any { return 1 }}).Validate())
}

func TestInstantiate(t *testing.T) {
	typ := Export(func() *parrot { return &parrot{} })
	inst, err := typ.Instantiate()
	require.NoError(t, err)
	assert.IsType(t, &parrot{}, inst)

	nilType := Export(func() *parrot { return nil })
	_, err = nilType.Instantiate()
	assert.ErrorContains(t, err, "returned nil")

	panicking := Export(func() *parrot { panic("boom") })
	_, err = panicking.Instantiate()
	assert.ErrorContains(t, err, "panicked: boom")
}

func TestModuleLookup(t *testing.T) {
	m := NewModule("birds", Export(func() *parrot { return &parrot{} }), nil)

	typ, ok := m.Lookup(TypeName(reflectTypeOf[*parrot]()))
	require.True(t, ok)
	assert.NotNil(t, typ.New)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)

	var empty *Module
	_, ok = empty.Lookup("anything")
	assert.False(t, ok)
}

func TestMetadata_JSONRoundTripKeepsIntegers(t *testing.T) {
	rec := Record{
		Source:     "/plugins/birds.so",
		Type:       "birds.Parrot",
		Capability: Of[speaker](),
		Metadata:   Metadata{"Name": "polly", "Priority": int64(7), "Ratio": 0.25, "Enabled": true},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestMetadata_UnmarshalRejectsNested(t *testing.T) {
	var md Metadata
	err := json.Unmarshal([]byte(`{"Tags":["a","b"]}`), &md)
	assert.Error(t, err)
}

func TestMetadata_CloneAndKeys(t *testing.T) {
	var nilMD Metadata
	assert.Nil(t, nilMD.Clone())

	md := Metadata{"b": "2", "a": "1"}
	clone := md.Clone()
	clone["c"] = "3"
	assert.Len(t, md, 2)
	assert.Equal(t, []string{"a", "b"}, md.Keys())
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsDuplicateFields(t *testing.T) {
	_, err := New(Field{"id", 1}, Field{"id", 2})
	require.Error(t, err)

	rec, err := New(Field{"id", 1}, Field{"name", "ada"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rec.Names())

	v, ok := rec.Get("id")
	require.True(t, ok)
	assert.Equal(t, int64(1), v, "ints are normalized to int64")
}

func TestRecordIsImmutable(t *testing.T) {
	orig := NewBuilder(2).Set("a", 1).Set("b", "x").Build()

	changed := orig.With("a", 2).With("c", true)
	removed := orig.Without("b")

	v, _ := orig.Get("a")
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []string{"a", "b"}, orig.Names())
	assert.Equal(t, []string{"a", "b", "c"}, changed.Names())
	assert.Equal(t, []string{"a"}, removed.Names())
}

func TestLookupAndWithPath(t *testing.T) {
	rec := FromMap(map[string]interface{}{
		"customer": map[string]interface{}{"address": map[string]interface{}{"city": "Lyon"}},
		"a.b":      "literal",
	})

	v, ok := rec.Lookup("customer.address.city")
	require.True(t, ok)
	assert.Equal(t, "Lyon", v)

	v, ok = rec.Lookup("a.b")
	require.True(t, ok)
	assert.Equal(t, "literal", v)

	_, ok = rec.Lookup("customer.missing")
	assert.False(t, ok)

	updated, err := rec.WithPath("customer.address.zip", "69001")
	require.NoError(t, err)
	zip, ok := updated.Lookup("customer.address.zip")
	require.True(t, ok)
	assert.Equal(t, "69001", zip)
	_, ok = rec.Lookup("customer.address.zip")
	assert.False(t, ok)

	_, err = rec.WithPath("a.b.c", 1)
	assert.NoError(t, err, "a literal dotted name is not a parent record")
}

func TestBuilderSetPathConflict(t *testing.T) {
	b := NewBuilder(2)
	b.Set("total", 10)
	err := b.SetPath("total.amount", 5)
	assert.Error(t, err)
}

func TestLargeRecordIndex(t *testing.T) {
	b := NewBuilder(20)
	for i := 0; i < 20; i++ {
		b.Set(string(rune('a'+i)), i)
	}
	rec := b.Build()
	v, ok := rec.Get("t")
	require.True(t, ok)
	assert.Equal(t, int64(19), v)

	rec2 := rec.With("z", 99).Without("a")
	v, ok = rec2.Get("z")
	require.True(t, ok)
	assert.Equal(t, int64(99), v)
	_, ok = rec2.Get("a")
	assert.False(t, ok)
}

func TestJSONPreservesOrder(t *testing.T) {
	input := `{"zeta":1,"alpha":{"y":2.5,"x":null},"items":[{"n":1},{"n":2}],"tags":["a",1],"ok":true}`

	rec, err := ParseJSON([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "items", "tags", "ok"}, rec.Names())

	items, _ := rec.Get("items")
	require.IsType(t, []*Record{}, items)
	assert.Len(t, items.([]*Record), 2)

	tags, _ := rec.Get("tags")
	assert.Equal(t, []interface{}{"a", int64(1)}, tags)

	out, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
	assert.Equal(t, input, string(out))
}

func TestParseJSONRejectsNonObject(t *testing.T) {
	_, err := ParseJSON([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestTimeEncodesAsRFC3339(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewBuilder(1).Set("at", ts).Build()
	out, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"at":"2024-03-01T12:00:00Z"}`, string(out))
}

func TestEqualAndKind(t *testing.T) {
	a := NewBuilder(2).Set("x", 1).Set("y", []interface{}{"a"}).Build()
	b := NewBuilder(2).Set("x", int64(1)).Set("y", []interface{}{"a"}).Build()
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(b.With("x", 2)))

	assert.Equal(t, "int", Kind(int64(1)))
	assert.Equal(t, "record", Kind(a))
	assert.Equal(t, "null", Kind(nil))
}

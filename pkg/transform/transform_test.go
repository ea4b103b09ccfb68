package transform

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

func rec(kv ...interface{}) *models.Record {
	b := models.NewBuilder(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		b.Set(kv[i].(string), kv[i+1])
	}
	return b.Build()
}

func mustCreate(t *testing.T, typ string, settings config.Settings) Stage {
	t.Helper()
	st, err := Create(&config.Stage{Name: typ + "_1", Type: typ, Settings: settings})
	require.NoError(t, err)
	return st
}

func TestFilter(t *testing.T) {
	r := rec("status", "active", "amount", 12.5, "age", 30, "tags", "a,b", "nested", rec("x", 1), "qty", "9")

	tests := []struct {
		name     string
		settings config.Settings
		keep     bool
		wantErr  bool
	}{
		{"eq string", config.Settings{"field": "status", "value": "active"}, true, false},
		{"ne string", config.Settings{"field": "status", "op": "ne", "value": "active"}, false, false},
		{"gt float", config.Settings{"field": "amount", "op": "gt", "value": "10"}, true, false},
		{"lte int", config.Settings{"field": "age", "op": "lte", "value": "29"}, false, false},
		{"nested path", config.Settings{"field": "nested.x", "op": "gte", "value": "1"}, true, false},
		{"numeric text", config.Settings{"field": "qty", "op": "gt", "value": "18"}, false, false},
		{"numeric text lt", config.Settings{"field": "qty", "op": "lt", "value": "18"}, true, false},
		{"exists", config.Settings{"field": "status", "op": "exists"}, true, false},
		{"missing", config.Settings{"field": "nope", "op": "missing"}, true, false},
		{"ne on missing field", config.Settings{"field": "nope", "op": "ne", "value": "x"}, true, false},
		{"eq on missing field", config.Settings{"field": "nope", "value": "x"}, false, false},
		{"contains", config.Settings{"field": "tags", "op": "contains", "value": "b"}, true, false},
		{"in", config.Settings{"field": "age", "op": "in", "value": "10,30"}, true, false},
		{"negate", config.Settings{"field": "status", "value": "active", "negate": "true"}, false, false},
		{"incomparable", config.Settings{"field": "amount", "op": "gt", "value": "lots"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := mustCreate(t, "filter", tt.settings)
			out, err := st.Apply(context.Background(), r, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeTransform))
				return
			}
			require.NoError(t, err)
			if tt.keep {
				assert.Len(t, out, 1)
			} else {
				assert.Empty(t, out)
			}
		})
	}
}

func TestFilterConfigErrors(t *testing.T) {
	_, err := Create(&config.Stage{Type: "filter", Settings: config.Settings{"op": "eq"}})
	assert.True(t, errors.IsConfig(err))
	_, err = Create(&config.Stage{Type: "filter", Settings: config.Settings{"field": "a", "op": "like"}})
	assert.True(t, errors.IsConfig(err))
	_, err = Create(&config.Stage{Type: "pivot"})
	assert.True(t, errors.IsConfig(err))
}

func TestSelectDropConstant(t *testing.T) {
	ctx := context.Background()
	r := rec("a", 1, "b", 2, "c", 3)

	out, err := mustCreate(t, "select", config.Settings{"fields": "c,a,zz"}).Apply(ctx, r, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, out[0].Names())

	out, err = mustCreate(t, "drop", config.Settings{"fields": "b"}).Apply(ctx, r, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, out[0].Names())

	out, err = mustCreate(t, "constant", config.Settings{"fields": "source=crm, a=x", "overwrite": "false"}).Apply(ctx, r, nil)
	require.NoError(t, err)
	src, _ := out[0].Get("source")
	a, _ := out[0].Get("a")
	assert.Equal(t, "crm", src)
	assert.EqualValues(t, 1, a)
	assert.Equal(t, []string{"a", "b", "c"}, r.Names(), "input must stay untouched")

	_, err = Create(&config.Stage{Type: "constant", Settings: config.Settings{"fields": "novalue"}})
	assert.True(t, errors.IsConfig(err))
}

func TestFlatten(t *testing.T) {
	ctx := context.Background()
	order := rec("id", 7, "items", []interface{}{
		map[string]interface{}{"sku": "a", "qty": 1},
		map[string]interface{}{"sku": "b", "qty": 2},
	})

	out, err := mustCreate(t, "flatten", config.Settings{"field": "items", "as": "item"}).Apply(ctx, order, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"id", "item"}, out[0].Names())
	sku, _ := out[1].Lookup("item.sku")
	assert.Equal(t, "b", sku)

	out, err = mustCreate(t, "flatten", config.Settings{"field": "items", "merge": "true"}).Apply(ctx, order, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"id", "qty", "sku"}, out[0].Names())

	empty := rec("id", 8, "items", []interface{}{})
	out, err = mustCreate(t, "flatten", config.Settings{"field": "items"}).Apply(ctx, empty, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	scalar := rec("id", 9, "items", "none")
	out, err = mustCreate(t, "flatten", config.Settings{"field": "items"}).Apply(ctx, scalar, nil)
	require.NoError(t, err)
	assert.Equal(t, []*models.Record{scalar}, out)
}

func TestDedupKeepsFirst(t *testing.T) {
	ctx := context.Background()
	st := mustCreate(t, "dedup", config.Settings{"keys": "id"})
	require.True(t, IsStateful(st))
	state := NewState(st)

	var kept []string
	for _, r := range []*models.Record{rec("id", 1, "v", "a"), rec("id", 2, "v", "b"), rec("id", 1, "v", "c"), rec("id", "1", "v", "d")} {
		out, err := st.Apply(ctx, r, state)
		require.NoError(t, err)
		for _, o := range out {
			v, _ := o.Get("v")
			kept = append(kept, v.(string))
		}
	}
	// "1" as a string differs from 1 as an int
	assert.Equal(t, []string{"a", "b", "d"}, kept)

	// a fresh state forgets everything
	out, err := st.Apply(ctx, rec("id", 1), NewState(st))
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = st.Apply(ctx, rec("id", 1), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestDedupSharedSum(t *testing.T) {
	ctx := context.Background()
	st := mustCreate(t, "dedup", config.Settings{"keys": "id"})
	st.(*Dedup).sum = func(string) uint64 { return 42 }
	state := NewState(st)

	tests := []struct {
		id   interface{}
		kept bool
	}{
		{1, true},
		{2, true},
		{1, false},
		{3, true},
		{2, false},
	}
	for _, tt := range tests {
		out, err := st.Apply(ctx, rec("id", tt.id), state)
		require.NoError(t, err)
		assert.Equal(t, tt.kept, len(out) == 1, "id %v", tt.id)
	}
	assert.Len(t, state.(*dedupState).seen[42], 3)
}

type failing struct {
	err error
}

func (f failing) Name() string { return "failing" }

func (f failing) Apply(context.Context, *models.Record, State) ([]*models.Record, error) {
	return nil, f.err
}

type substituting struct{ failing }

func (substituting) Substitute(_ context.Context, r *models.Record, _ State, _ error) ([]*models.Record, error) {
	return []*models.Record{r.With("substituted", true)}, nil
}

func TestApplyPolicies(t *testing.T) {
	ctx := context.Background()
	r := rec("id", 1)
	recErr := errors.New(errors.ErrorTypeTransform, "bad value")

	out, err := Apply(ctx, failing{err: recErr}, r, nil, config.OnErrorDrop)
	assert.Nil(t, out)
	assert.True(t, errors.IsRecordLevel(err))

	out, err = Apply(ctx, failing{err: stderrors.New("plain")}, r, nil, config.OnErrorDrop)
	assert.Nil(t, out)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransform))

	out, err = Apply(ctx, failing{err: recErr}, r, nil, config.OnErrorDefault)
	require.NoError(t, err)
	assert.Equal(t, []*models.Record{r}, out)

	out, err = Apply(ctx, substituting{failing{err: recErr}}, r, nil, config.OnErrorDefault)
	require.NoError(t, err)
	v, _ := out[0].Get("substituted")
	assert.Equal(t, true, v)

	_, err = Apply(ctx, failing{err: recErr}, r, nil, config.OnErrorAbort)
	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "failing", abort.Stage)
	assert.True(t, errors.IsRecordLevel(err))

	fatal := errors.New(errors.ErrorTypeConnection, "lookup service down")
	_, err = Apply(ctx, failing{err: fatal}, r, nil, config.OnErrorDefault)
	assert.Same(t, fatal, err)
}

func TestFuncAndTypes(t *testing.T) {
	st := Func{StageName: "upper", Fn: func(_ context.Context, r *models.Record) ([]*models.Record, error) {
		return []*models.Record{r.With("x", 1)}, nil
	}}
	out, err := Apply(context.Background(), st, rec(), nil, config.OnErrorDrop)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.False(t, IsStateful(st))
	assert.Nil(t, NewState(st))
	assert.Subset(t, Types(), []string{"dedup", "drop", "filter", "flatten", "select", "constant"})
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr string
		want config.Settings
	}{
		{"age>=30", config.Settings{"field": "age", "op": "gte", "value": "30"}},
		{"age > 30", config.Settings{"field": "age", "op": "gt", "value": "30"}},
		{"city=London", config.Settings{"field": "city", "op": "eq", "value": "London"}},
		{"city==London", config.Settings{"field": "city", "op": "eq", "value": "London"}},
		{"state!=NY", config.Settings{"field": "state", "op": "ne", "value": "NY"}},
		{"name~ada", config.Settings{"field": "name", "op": "contains", "value": "ada"}},
		{"address.zip<=10001", config.Settings{"field": "address.zip", "op": "lte", "value": "10001"}},
		{"email?", config.Settings{"field": "email", "op": "exists"}},
		{"!email", config.Settings{"field": "email", "op": "missing"}},
		{"note=", config.Settings{"field": "note", "op": "eq", "value": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			st, err := ParseCondition("w", tt.expr)
			require.NoError(t, err)
			assert.Equal(t, "filter", st.Type)
			assert.Equal(t, tt.want, st.Settings)
		})
	}
}

func TestParseConditionErrors(t *testing.T) {
	for _, expr := range []string{"", "age", "=5", "?", "!"} {
		_, err := ParseCondition("w", expr)
		require.Error(t, err, expr)
		assert.True(t, errors.IsConfig(err))
	}
}

func TestConditions(t *testing.T) {
	stages, err := Conditions([]string{"a=1", "b?"})
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "where_2", stages[1].Name)

	_, err = Conditions([]string{"a=1", "nonsense"})
	assert.Error(t, err)
}

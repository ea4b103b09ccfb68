package cli

import (
	"fmt"
	"strings"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

// comparison operators, longest first so that ">=" wins over ">"
var conditionOps = []struct {
	symbol string
	op     string
}{
	{">=", "gte"},
	{"<=", "lte"},
	{"!=", "ne"},
	{"==", "eq"},
	{"=", "eq"},
	{">", "gt"},
	{"<", "lt"},
	{"~", "contains"},
}

// ParseCondition turns a command line condition into a filter stage.
//
//	age>=30    city=London    name~ada    email?    !email
//
// "field?" keeps records where the field is set and "!field" those where
// it is not.
func ParseCondition(name, expr string) (config.Stage, error) {
	expr = strings.TrimSpace(expr)
	stage := config.Stage{Name: name, Type: "filter", Settings: config.Settings{}}
	switch {
	case strings.HasSuffix(expr, "?") && len(expr) > 1:
		stage.Settings["field"] = strings.TrimSpace(expr[:len(expr)-1])
		stage.Settings["op"] = "exists"
		return stage, nil
	case strings.HasPrefix(expr, "!") && !strings.Contains(expr, "=") && len(expr) > 1:
		stage.Settings["field"] = strings.TrimSpace(expr[1:])
		stage.Settings["op"] = "missing"
		return stage, nil
	}

	for _, c := range conditionOps {
		i := strings.Index(expr, c.symbol)
		if i <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:i])
		if field == "" {
			break
		}
		stage.Settings["field"] = field
		stage.Settings["op"] = c.op
		stage.Settings["value"] = strings.TrimSpace(expr[i+len(c.symbol):])
		return stage, nil
	}
	return config.Stage{}, errors.Newf(errors.ErrorTypeConfig, "cannot parse condition %q", expr)
}

// Conditions parses every condition into filter stages named where_1,
// where_2 and so on.
func Conditions(exprs []string) ([]config.Stage, error) {
	stages := make([]config.Stage, 0, len(exprs))
	for i, expr := range exprs {
		st, err := ParseCondition(fmt.Sprintf("where_%d", i+1), expr)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

package dataset

import (
	"context"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/tveshas/quizagent/internal/capability"
)

// AnalyzeTool runs row-level operations over tabular data supplied by the
// reasoning model.
type AnalyzeTool struct{}

func (AnalyzeTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "analyze_dataframe",
		Description: "Perform data analysis operations on tabular data (sum, mean, count, filter, groupby, sort).",
		Fields: []capability.Field{
			{Name: "data", Type: capability.TypeArray, Description: "List of objects representing rows", Required: true},
			{Name: "operation", Type: capability.TypeString, Description: "The operation to perform", Required: true,
				Enum: []string{"sum", "mean", "count", "filter", "groupby", "sort"}},
			{Name: "column", Type: capability.TypeString, Description: "Column name for operations like sum, mean"},
			{Name: "by", Type: capability.TypeString, Description: "Column name for groupby and sort"},
			{Name: "agg", Type: capability.TypeString, Description: "Aggregation for groupby (default: count)"},
			{Name: "ascending", Type: capability.TypeBoolean, Description: "Sort order (default: true)"},
			{Name: "where", Type: capability.TypeObject, Description: "Equality conditions for filter, column -> value"},
		},
	}
}

func (AnalyzeTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	rows, err := toRows(args["data"])
	if err != nil {
		return capability.Failure("%v", err)
	}
	operation, _ := args["operation"].(string)

	switch operation {
	case "sum", "mean":
		column, _ := args["column"].(string)
		if column == "" {
			return capability.Failure("column name required for %s", operation)
		}
		values, err := numericColumn(rows, column)
		if err != nil {
			return capability.Failure("%v", err)
		}
		var out float64
		if operation == "sum" {
			out, err = stats.Sum(values)
		} else {
			out, err = stats.Mean(values)
		}
		if err != nil {
			return capability.Failure("%s of %s: %v", operation, column, err)
		}
		return capability.OK(map[string]interface{}{"result": out})

	case "count":
		return capability.OK(map[string]interface{}{"result": len(rows)})

	case "filter":
		where, _ := args["where"].(map[string]interface{})
		if len(where) == 0 {
			return capability.Failure("filter requires at least one condition in where")
		}
		var filtered []map[string]interface{}
		for _, row := range rows {
			match := true
			for col, want := range where {
				if !equalValue(row[col], want) {
					match = false
					break
				}
			}
			if match {
				filtered = append(filtered, row)
			}
		}
		return capability.OK(map[string]interface{}{"result": filtered, "count": len(filtered)})

	case "groupby":
		by, _ := args["by"].(string)
		if by == "" {
			return capability.Failure("groupby column required")
		}
		agg, _ := args["agg"].(string)
		if agg == "" {
			agg = "count"
		}
		column, _ := args["column"].(string)
		grouped, err := groupBy(rows, by, agg, column)
		if err != nil {
			return capability.Failure("%v", err)
		}
		return capability.OK(map[string]interface{}{"result": grouped})

	case "sort":
		by, _ := args["by"].(string)
		if by == "" {
			by, _ = args["column"].(string)
		}
		if by == "" {
			return capability.Failure("sort column required")
		}
		ascending := true
		if v, ok := args["ascending"].(bool); ok {
			ascending = v
		}
		sorted := make([]map[string]interface{}, len(rows))
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			less := lessValue(sorted[i][by], sorted[j][by])
			if ascending {
				return less
			}
			return lessValue(sorted[j][by], sorted[i][by])
		})
		return capability.OK(map[string]interface{}{"result": sorted})
	}
	return capability.Failure("unknown operation: %s", operation)
}

// StatisticsTool computes descriptive statistics for a numeric column.
type StatisticsTool struct{}

func (StatisticsTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "calculate_statistics",
		Description: "Calculate statistics (count, mean, std, min, max, median, sum) for a numeric column.",
		Fields: []capability.Field{
			{Name: "data", Type: capability.TypeArray, Description: "List of objects representing rows", Required: true},
			{Name: "column", Type: capability.TypeString, Description: "Column name to analyze", Required: true},
		},
	}
}

func (StatisticsTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	rows, err := toRows(args["data"])
	if err != nil {
		return capability.Failure("%v", err)
	}
	column, _ := args["column"].(string)
	values, err := numericColumn(rows, column)
	if err != nil {
		return capability.Failure("%v", err)
	}
	if len(values) == 0 {
		return capability.Failure("column %s has no numeric values", column)
	}

	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviationSample(values)
	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	median, _ := stats.Median(values)
	sum, _ := stats.Sum(values)

	return capability.OK(map[string]interface{}{
		"count":  len(values),
		"mean":   mean,
		"std":    std,
		"min":    min,
		"max":    max,
		"median": median,
		"sum":    sum,
	})
}

func toRows(v interface{}) ([]map[string]interface{}, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("data must be an array of objects")
	}
	rows := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("row %d is not an object", i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func numericColumn(rows []map[string]interface{}, column string) (stats.Float64Data, error) {
	if column == "" {
		return nil, fmt.Errorf("column name required")
	}
	var values stats.Float64Data
	seen := false
	for _, row := range rows {
		v, ok := row[column]
		if !ok {
			continue
		}
		seen = true
		if f, ok := asFloat(v); ok {
			values = append(values, f)
		}
	}
	if !seen {
		return nil, fmt.Errorf("column %s not found", column)
	}
	return values, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func equalValue(a, b interface{}) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func lessValue(a, b interface{}) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa < fb
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func groupBy(rows []map[string]interface{}, by, agg, column string) (map[string]interface{}, error) {
	groups := make(map[string][]map[string]interface{})
	var order []string
	for _, row := range rows {
		key := fmt.Sprintf("%v", row[by])
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := make(map[string]interface{}, len(groups))
	for _, key := range order {
		members := groups[key]
		switch agg {
		case "count":
			out[key] = len(members)
		case "sum", "mean":
			if column == "" {
				return nil, fmt.Errorf("column required for groupby %s", agg)
			}
			values, err := numericColumn(members, column)
			if err != nil {
				return nil, err
			}
			var v float64
			if agg == "sum" {
				v, _ = stats.Sum(values)
			} else {
				v, _ = stats.Mean(values)
			}
			out[key] = v
		default:
			return nil, fmt.Errorf("unknown aggregation: %s", agg)
		}
	}
	return out, nil
}

package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/tveshas/quizagent/internal/capability"
)

// Tool renders charts for quizzes that ask for a visualization answer. The
// image comes back as a PNG data URI so the model can submit it directly.
type Tool struct{}

func (Tool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "create_chart",
		Description: "Create a chart (bar, line, scatter, pie) from data. Returns a base64 encoded PNG image.",
		Fields: []capability.Field{
			{Name: "data", Type: capability.TypeArray, Description: "List of objects representing rows", Required: true},
			{Name: "chart_type", Type: capability.TypeString, Description: "Type of chart to create", Required: true,
				Enum: []string{"bar", "line", "scatter", "pie"}},
			{Name: "x", Type: capability.TypeString, Description: "X-axis column name", Required: true},
			{Name: "y", Type: capability.TypeString, Description: "Y-axis column name", Required: true},
			{Name: "title", Type: capability.TypeString, Description: "Chart title"},
		},
	}
}

func (Tool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	rows, ok := args["data"].([]interface{})
	if !ok || len(rows) == 0 {
		return capability.Failure("data must be a non-empty array of objects")
	}
	chartType, _ := args["chart_type"].(string)
	xCol, _ := args["x"].(string)
	yCol, _ := args["y"].(string)
	title, _ := args["title"].(string)

	labels, values, err := columns(rows, xCol, yCol)
	if err != nil {
		return capability.Failure("%v", err)
	}

	var buf bytes.Buffer
	switch chartType {
	case "bar":
		err = renderBar(&buf, title, labels, values)
	case "line":
		err = renderXY(&buf, title, values, 0)
	case "scatter":
		err = renderXY(&buf, title, values, 5)
	case "pie":
		err = renderPie(&buf, title, labels, values)
	default:
		return capability.Failure("unknown chart type: %s", chartType)
	}
	if err != nil {
		return capability.Failure("render %s chart: %v", chartType, err)
	}

	return capability.OK(map[string]interface{}{
		"image":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		"chart_type": chartType,
	})
}

// columns pulls string labels (x) and numeric values (y) out of the rows.
func columns(rows []interface{}, xCol, yCol string) ([]string, []float64, error) {
	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for i, item := range rows {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("row %d is not an object", i)
		}
		labels = append(labels, fmt.Sprintf("%v", row[xCol]))
		switch v := row[yCol].(type) {
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		default:
			return nil, nil, fmt.Errorf("row %d column %s is not numeric", i, yCol)
		}
	}
	return labels, values, nil
}

func renderBar(buf *bytes.Buffer, title string, labels []string, values []float64) error {
	bars := make([]gochart.Value, len(values))
	for i := range values {
		bars[i] = gochart.Value{Label: labels[i], Value: values[i]}
	}
	graph := gochart.BarChart{
		Title:    title,
		Width:    800,
		Height:   500,
		BarWidth: 40,
		Bars:     bars,
	}
	return graph.Render(gochart.PNG, buf)
}

func renderXY(buf *bytes.Buffer, title string, values []float64, dotWidth float64) error {
	xs := make([]float64, len(values))
	for i := range values {
		xs[i] = float64(i)
	}
	series := gochart.ContinuousSeries{
		XValues: xs,
		YValues: values,
	}
	if dotWidth > 0 {
		series.Style = gochart.Style{
			StrokeWidth: gochart.Disabled,
			DotWidth:    dotWidth,
		}
	}
	graph := gochart.Chart{
		Title:  title,
		Width:  800,
		Height: 500,
		Series: []gochart.Series{series},
	}
	return graph.Render(gochart.PNG, buf)
}

func renderPie(buf *bytes.Buffer, title string, labels []string, values []float64) error {
	slices := make([]gochart.Value, len(values))
	for i := range values {
		slices[i] = gochart.Value{Label: labels[i], Value: values[i]}
	}
	graph := gochart.PieChart{
		Title:  title,
		Width:  600,
		Height: 600,
		Values: slices,
	}
	return graph.Render(gochart.PNG, buf)
}

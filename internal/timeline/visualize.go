package timeline

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

var palette = []string{
	"#636efa", "#ef553b", "#00cc96", "#ab63fa", "#ffa15a",
	"#19d3f3", "#ff6692", "#b6e880", "#ff97ff", "#fecb52",
}

type vizRow struct {
	Index    int
	Name     string
	Type     string
	Label    Label
	Start    int
	End      int
	Duration int
	Style    template.CSS
}

type vizLegend struct {
	Type  string
	Style template.CSS
}

type vizPage struct {
	Total  int
	Rows   []vizRow
	Legend []vizLegend
}

var vizTemplate = template.Must(template.New("timeline").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Timeline</title>
<style>
body { font-family: sans-serif; margin: 24px; }
.row { display: flex; align-items: center; height: 22px; margin: 2px 0; }
.label { width: 220px; font-size: 12px; overflow: hidden; white-space: nowrap; text-overflow: ellipsis; }
.track { position: relative; flex: 1; height: 18px; background: #f2f2f2; }
.bar { position: absolute; top: 0; height: 18px; min-width: 2px; }
.legend span { display: inline-block; margin-right: 12px; font-size: 12px; }
.legend i { display: inline-block; width: 10px; height: 10px; margin-right: 4px; }
</style>
</head>
<body>
<h3>Timeline ({{.Total}} ms)</h3>
<div class="legend">{{range .Legend}}<span><i style="{{.Style}}"></i>{{.Type}}</span>{{end}}</div>
{{range .Rows}}<div class="row">
<div class="label">{{.Index}} {{.Label}}</div>
<div class="track"><div class="bar" style="{{.Style}}" title="{{.Name}} ({{.Type}}) {{.Start}}-{{.End}} ms, clip {{.Duration}} ms"></div></div>
</div>
{{end}}</body>
</html>
`))

// Visualize writes a self-contained HTML Gantt chart of the entries: one
// row per entry, colored by type, hover text naming the entry. Open
// entries are drawn to the end of their clip.
func (t *Timeline) Visualize(path string) error {
	page := vizPage{}

	lo, hi := 0, 0
	ends := make([]int, len(t.entries))
	for i, e := range t.entries {
		end := e.End
		if !e.hasEnd {
			end = e.Start + e.Clip.Len()
		}
		ends[i] = end
		lo = min(lo, e.Start)
		hi = max(hi, end)
	}
	span := hi - lo
	page.Total = span
	if span == 0 {
		span = 1
	}

	colors := make(map[string]string)
	for i, e := range t.entries {
		color, ok := colors[e.Type]
		if !ok {
			color = palette[len(colors)%len(palette)]
			colors[e.Type] = color
			page.Legend = append(page.Legend, vizLegend{Type: e.Type, Style: template.CSS("background: " + color)})
		}
		page.Rows = append(page.Rows, vizRow{
			Index:    i,
			Name:     e.Name,
			Type:     e.Type,
			Label:    e.Label,
			Start:    e.Start,
			End:      ends[i],
			Duration: e.Clip.Len(),
			// #nosec G203 - style is built from numbers and the fixed palette
			Style: template.CSS(fmt.Sprintf("left: %.3f%%; width: %.3f%%; background: %s",
				float64(e.Start-lo)*100/float64(span),
				float64(ends[i]-e.Start)*100/float64(span),
				color,
			)),
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create visualization dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 - path is built by the pipeline
	if err != nil {
		return fmt.Errorf("create visualization: %w", err)
	}
	if err := vizTemplate.Execute(f, page); err != nil {
		_ = f.Close()
		return fmt.Errorf("write visualization: %w", err)
	}
	return f.Close()
}

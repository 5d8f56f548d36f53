package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/cinecard/cinecard/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func renderQueueItems(items []model.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			truncateID(it.WorkID),
			string(it.Status),
			strconv.Itoa(it.Priority),
			strconv.Itoa(it.RetryCount),
			formatTime(it.QueuedAt),
			formatTimePtr(it.ProcessedAt),
			truncate(it.LastError, 48),
		})
	}
	return renderTable(
		[]string{"WORK", "STATUS", "PRIORITY", "RETRIES", "QUEUED", "PROCESSED", "LAST ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	)
}

func renderRunLogs(runs []model.IngestionRunLog) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			truncateID(r.ID),
			r.Source,
			string(r.Trigger),
			strconv.Itoa(r.Checked),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Ingested),
			strconv.Itoa(r.Failed),
			strconv.Itoa(len(r.Errors)),
			formatTime(r.StartedAt),
			(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second).String(),
		})
	}
	return renderTable(
		[]string{"ID", "SOURCE", "TRIGGER", "CHECKED", "SKIPPED", "INGESTED", "FAILED", "ERRORS", "STARTED", "DURATION"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func renderRunTitles(titles []model.RunTitle) string {
	rows := make([][]string, 0, len(titles))
	for _, t := range titles {
		rows = append(rows, []string{
			strconv.FormatInt(t.ExternalID, 10),
			truncate(t.Title, 40),
			t.Outcome,
			truncate(t.Error, 48),
		})
	}
	return renderTable([]string{"TMDB ID", "TITLE", "OUTCOME", "ERROR"}, rows, []columnAlignment{alignRight})
}

// renderCounts renders a status → count map sorted by status name.
func renderCounts[K ~string](title string, counts map[K]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys)+1)
	total := 0
	for _, k := range keys {
		n := counts[K(k)]
		total += n
		rows = append(rows, []string{k, strconv.Itoa(n)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	return renderTable([]string{title, "COUNT"}, rows, []columnAlignment{alignLeft, alignRight})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

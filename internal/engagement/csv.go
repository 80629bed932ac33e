package engagement

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/learnlens/backend/pkg/docstore"
)

var exportHeader = []string{
	"tutorial_id", "tutorial_title", "user_id", "total_minutes_watched",
	"percent_of_average", "level", "last_updated",
	"tutorial_viewers", "tutorial_view_minutes", "tutorial_average_watch_time",
}

// WriteExport writes one CSV row per (tutorial, student) for every tutorial
// owned by ownerID. Tutorials without viewers get a row with an empty user.
// It returns the number of data rows.
func WriteExport(ctx context.Context, w io.Writer, agg Aggregator, tutorials TutorialSource, ownerID string) (int, error) {
	list, err := tutorials.List(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list tutorials: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}

	rows := 0
	for _, t := range list {
		e, err := agg.ByTutorial(ctx, t.ID)
		if err != nil {
			return rows, fmt.Errorf("aggregate %s: %w", t.ID, err)
		}
		r := Report(t, e)
		totals := []string{
			strconv.Itoa(r.Summary.TotalViewers),
			strconv.FormatInt(r.Summary.TotalViewMinutes, 10),
			strconv.FormatInt(r.Summary.AverageWatchTime, 10),
		}
		if len(r.Students) == 0 {
			if err := cw.Write(append([]string{t.ID, t.Title, "", "0", "0", "", ""}, totals...)); err != nil {
				return rows, err
			}
			rows++
			continue
		}
		for _, s := range r.Students {
			updated := ""
			if !s.LastUpdated.IsZero() {
				updated = s.LastUpdated.UTC().Format(docstore.TimeLayout)
			}
			row := []string{
				t.ID, t.Title, s.UserID,
				strconv.FormatInt(s.TotalMinutesWatched, 10),
				strconv.FormatInt(s.PercentOfAverage, 10),
				string(s.Level),
				updated,
			}
			if err := cw.Write(append(row, totals...)); err != nil {
				return rows, err
			}
			rows++
		}
	}
	cw.Flush()
	return rows, cw.Error()
}

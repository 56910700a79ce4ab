package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/rewired-gh/niftyoracle/internal/contest"
)

func printLeaderboard(w io.Writer, svc *contest.Service) error {
	view, err := svc.ViewHome()
	if err != nil {
		return err
	}
	if view.Contest == nil {
		fmt.Fprintln(w, view.Message)
		return nil
	}

	ref := "n/a"
	if view.Reference != nil {
		ref = fmt.Sprintf("%.2f", *view.Reference)
	}
	fmt.Fprintf(w, "\n%s (reference %s)\n", view.Contest.Name, ref)
	if view.Message != "" {
		fmt.Fprintln(w, view.Message)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Name", "Prediction", "Distance", "Submitted")
	for i, r := range view.TopPredictions {
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Name,
			fmt.Sprintf("%.2f", r.PredictedValue),
			fmt.Sprintf("%.2f", r.Distance),
			r.SubmittedAt.Format("2006-01-02 15:04"),
		)
	}
	return table.Render()
}

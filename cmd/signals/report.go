package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/price"
)

var (
	reportFromJournal bool
	reportLimit       int
)

var reportCmd = &cobra.Command{
	Use:   "report <handle>",
	Short: "List the signals saved on an author's tweets with price performance since the call",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportFromJournal, "journal", false, "Read signals saved from this machine instead of the backend")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 50, "Maximum number of signals to show")
}

type reportRow struct {
	Signal    models.Signal
	Change    float64
	HasChange bool
}

// Hit reports whether the price moved the way the signal called it.
func (r reportRow) Hit() bool {
	if !r.HasChange {
		return false
	}
	if r.Signal.Sentiment == models.Bearish {
		return r.Change < 0
	}
	return r.Change > 0
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	handle := models.NormalizeHandle(args[0])
	client := newClient()

	var (
		sigs []models.Signal
		err  error
	)
	if reportFromJournal {
		store, serr := openStore()
		if serr != nil {
			return serr
		}
		defer store.Close()
		sigs, err = store.JournaledSignals(ctx, handle, reportLimit)
	} else {
		sigs, err = client.ListSignals(ctx, handle)
	}
	if err != nil {
		return err
	}
	if len(sigs) > reportLimit {
		sigs = sigs[:reportLimit]
	}
	if len(sigs) == 0 {
		fmt.Printf("No signals saved for @%s\n", handle)
		return nil
	}

	dir := directory.New(client)
	dir.Load(ctx)
	rows := buildReport(ctx, price.NewAggregator(client, dir), sigs)
	renderReport(handle, rows)
	return nil
}

// buildReport looks up every signal's performance, a few at a time.
func buildReport(ctx context.Context, prices *price.Aggregator, sigs []models.Signal) []reportRow {
	rows := make([]reportRow, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, s := range sigs {
		i, s := i, s
		rows[i] = reportRow{Signal: s}
		at, ok := s.PostTime()
		if !ok {
			continue
		}
		g.Go(func() error {
			rows[i].Change, rows[i].HasChange = prices.PercentChange(gctx, s.ProjectHandle, at)
			return nil
		})
	}
	g.Wait()
	return rows
}

func renderReport(handle string, rows []reportRow) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Sentiment", "Project", "Since call", "Hit", "Tweet"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	var priced, hits int
	for _, r := range rows {
		sentiment := green("bullish")
		if r.Signal.Sentiment == models.Bearish {
			sentiment = red("bearish")
		}
		project := "@" + r.Signal.ProjectHandle
		if r.Signal.ProjectDisplayName != "" {
			project = r.Signal.ProjectDisplayName + " " + faint(project)
		}

		change, hit := faint("n/a"), ""
		if r.HasChange {
			priced++
			change = price.Format(r.Change)
			if r.Change >= 0 {
				change = green(change)
			} else {
				change = red(change)
			}
			hit = red("✗")
			if r.Hit() {
				hits++
				hit = green("✓")
			}
		}
		table.Append([]string{r.Signal.NotedDate, sentiment, project, change, hit, r.Signal.Permalink})
	}

	fmt.Printf("\nSignals on @%s\n\n", handle)
	table.Render()
	if priced > 0 {
		fmt.Printf("\n%d of %d priced calls moved the right way (%.0f%%)\n", hits, priced, 100*float64(hits)/float64(priced))
	}
}

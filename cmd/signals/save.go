package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kol-signals/pkg/auth"
	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/tui"
	"github.com/kol-signals/pkg/twitter"
)

var (
	saveSentiment string
	saveProject   string
)

var saveCmd = &cobra.Command{
	Use:   "save <tweet-url>",
	Short: "Save a sentiment signal on a tweet",
	Long: "Fetches the tweet and opens the save dialog. With --sentiment and --project\n" +
		"the signal is saved without the dialog; --project takes a project id or handle.",
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func init() {
	saveCmd.Flags().StringVar(&saveSentiment, "sentiment", "", "bullish or bearish")
	saveCmd.Flags().StringVar(&saveProject, "project", "", "Project id or twitter handle")
}

func runSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	post, err := twitter.New(cfg).Post(ctx, args[0])
	if err != nil {
		return err
	}
	log.Debug().Str("post", post.ID).Str("author", post.AuthorHandle()).Msg("tweet fetched")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	client := newClient()
	dir := directory.New(client)
	dir.Load(ctx)
	recent := directory.NewRecent(store, cfg.RecentProjectsLimit)

	deps := dialog.Deps{
		Submitter: client,
		Tokens:    auth.NewBroker(store),
		Recent:    recent,
		Journal:   store,
		NotifyTTL: cfg.NotifyTTL,
	}
	d := dialog.New(post, dir.Projects(), recent.IDs(ctx), dialog.WithProfileURL(cfg.ProfileURL))

	if saveSentiment == "" && saveProject == "" {
		res, err := tui.Run(ctx, deps, d)
		if err != nil {
			return err
		}
		if res.Saved && res.Notification != nil {
			printNotification(*res.Notification)
		}
		return nil
	}

	sentiment := models.Sentiment(strings.ToLower(saveSentiment))
	if !sentiment.Valid() {
		return fmt.Errorf("--sentiment must be bullish or bearish, got %q", saveSentiment)
	}
	project, ok := dir.ByID(saveProject)
	if !ok {
		project, ok = dir.ByHandle(saveProject)
	}
	if !ok {
		return fmt.Errorf("unknown project %q (see `signals projects`)", saveProject)
	}

	var note *dialog.Notification
	deps.Notifier = dialog.NotifierFunc(func(n dialog.Notification) { note = &n })
	if err := dialog.NewController(deps).Save(ctx, d, sentiment, project.ID); err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	if note != nil {
		printNotification(*note)
	}
	return nil
}

func printNotification(n dialog.Notification) {
	c := color.New(color.FgGreen)
	if n.Level == dialog.LevelError {
		c = color.New(color.FgRed)
	}
	c.Println(n.Message)
	if n.Link != "" {
		fmt.Println(n.Link)
	}
}

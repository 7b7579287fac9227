package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/models"
)

var projectsCmd = &cobra.Command{
	Use:   "projects [query]",
	Short: "Search the project directory, recently used projects first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjects,
}

func runProjects(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	dir := directory.New(newClient())
	dir.Load(ctx)
	if len(dir.Projects()) == 0 {
		return fmt.Errorf("project directory unavailable")
	}
	recent := directory.NewRecent(store, cfg.RecentProjectsLimit)
	res := dir.Search(query, recent.IDs(ctx))
	if res.Empty() {
		fmt.Println("No projects found")
		return nil
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "Project", "Handle", "Type", "Price source"})
	table.SetBorder(false)
	add := func(mark string, p models.TrackedProject) {
		table.Append([]string{mark, p.DisplayName, "@" + p.Handle(), string(p.Kind), priceSource(p)})
	}
	for _, p := range res.Recent {
		add(cyan("★"), p)
	}
	for _, p := range res.Others {
		add("", p)
	}
	table.Render()
	return nil
}

func priceSource(p models.TrackedProject) string {
	if !p.PriceTrackingEnabled {
		return "off"
	}
	switch p.Shape() {
	case models.ShapeTokenContract:
		return fmt.Sprintf("%s:%s", p.Chain, short(p.ContractAddress))
	case models.ShapeTokenExternalID:
		return "coingecko:" + p.CoinGeckoID
	case models.ShapeNFTContract:
		return fmt.Sprintf("floor %s:%s", p.Chain, short(p.ContractAddress))
	}
	return "unsupported"
}

func short(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

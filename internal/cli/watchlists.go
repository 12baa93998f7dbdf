package cli

import (
	"github.com/spf13/cobra"
)

var watchlistsCmd = &cobra.Command{
	Use:   "watchlists",
	Short: "Manage watchlists",
}

var watchlistsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watchlists",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watchlists(cmd.Context())
	},
}

var watchlistsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CreateWatchlist(cmd.Context(), args[0])
	},
}

var watchlistsAddCmd = &cobra.Command{
	Use:   "add <watchlist-id> <company-id>",
	Short: "Add a company to a watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddToWatchlist(cmd.Context(), args[0], args[1])
	},
}

var watchlistsRemoveCmd = &cobra.Command{
	Use:   "remove <watchlist-id> <company-id>",
	Short: "Remove a company from a watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveFromWatchlist(cmd.Context(), args[0], args[1])
	},
}

func init() {
	watchlistsCmd.AddCommand(watchlistsListCmd, watchlistsCreateCmd, watchlistsAddCmd, watchlistsRemoveCmd)
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/landingbay/rlbridge/internal/client"
)

var episodesJSON bool

// episodesCmd represents the episodes command
var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "List recorded episodes",
	Long: `List the episodes the backend recorded for the current credential.

The request goes through the relay server's REST pass-through, so the same
--url and --token as "rlbridge play" apply.`,
	RunE: runEpisodes,
}

func init() {
	rootCmd.AddCommand(episodesCmd)

	episodesCmd.Flags().StringVar(&playURL, "url", "", "Dashboard base URL including the base path (default: client.url)")
	episodesCmd.Flags().StringVar(&playToken, "token", "", "Bearer credential (default: client.token)")
	episodesCmd.Flags().BoolVar(&episodesJSON, "json", false, "Print as JSON")
}

func runEpisodes(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	episodes, err := newClient().ListEpisodes(ctx)
	if err != nil {
		return err
	}
	if episodesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(episodes)
	}
	return printEpisodes(os.Stdout, episodes)
}

// printEpisodes writes episodes as an aligned table.
func printEpisodes(w io.Writer, episodes []client.Episode) error {
	if len(episodes) == 0 {
		_, err := fmt.Fprintln(w, "No episodes recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tOUTCOME\tFUEL USED\tACCURACY")
	for _, e := range episodes {
		outcome := "crashed"
		if e.Success {
			outcome = "landed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.0f%%\n",
			e.ID, e.Timestamp.Local().Format(time.DateTime), outcome, e.FuelUsed, e.LandingAccuracy*100)
	}
	return tw.Flush()
}

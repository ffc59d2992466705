package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elearn-tools/moodlegrab/internal/output"
	"github.com/elearn-tools/moodlegrab/internal/scraper"
)

func newCoursesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List enrolled courses and where they would be saved",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, client, err := login()
			if err != nil {
				output.PrintError(fmt.Sprintf("Login failed: %v", err))
				os.Exit(1)
			}
			scr := scraper.New(client, cfg, nil, globalHTTPConfig)
			entries, err := scr.CourseList()
			if err != nil {
				output.PrintError(fmt.Sprintf("Could not list courses: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Enrolled in %d courses", len(entries)))
			for _, entry := range entries {
				output.PrintDetail(strings.Join(entry.Path, " / "))
			}
		},
	}
}

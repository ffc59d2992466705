package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	grabhttp "github.com/elearn-tools/moodlegrab/internal/downloaders/http"
	"github.com/elearn-tools/moodlegrab/internal/kaltura"
	"github.com/elearn-tools/moodlegrab/internal/output"
	"github.com/elearn-tools/moodlegrab/internal/scheduler"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

func newResolveCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "resolve [URL]",
		Short: "Resolve a lecture recording page to its direct media URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			session, _, err := login()
			if err != nil {
				output.PrintError(fmt.Sprintf("Login failed: %v", err))
				os.Exit(1)
			}
			resolver := kaltura.NewResolver(session.Client, cfg.KalturaServiceURL, cfg.KalturaPartnerID)
			mediaURL, entryID, err := resolver.Resolve(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Could not resolve lecture: %v", err))
				os.Exit(1)
			}
			output.PrintDetail(fmt.Sprintf("Entry ID: %s", entryID))
			fmt.Println(mediaURL)

			if outputPath == "" {
				return
			}
			job := utils.GrabJob{
				JobType:          "http",
				URL:              mediaURL,
				OutputPath:       outputPath,
				Connections:      cfg.Connections,
				HTTPClientConfig: globalHTTPConfig,
				Metadata:         make(map[string]any),
			}
			registry := scheduler.Registry{"http": &grabhttp.HTTPDownloader{}}
			if err := scheduler.Run([]utils.GrabJob{job}, 1, registry, nil); err != nil {
				fmt.Println()
				output.PrintError("Encountered failed operation(s)")
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Also download the media to this path")
	return cmd
}

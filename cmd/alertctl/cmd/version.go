package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build time of alertctl. With -v the server health is also checked.`,
	Run: func(cmd *cobra.Command, args []string) {
		if printJSON(config.GetBuildInfo()) {
			return
		}
		fmt.Println(config.VersionString("alertctl"))
		if !verbose {
			return
		}
		if err := newClient().Do(context.Background(), http.MethodGet, "/health", nil, nil, nil); err != nil {
			fmt.Printf("server %s: %v\n", serverURL, err)
			return
		}
		fmt.Printf("server %s: ok\n", serverURL)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

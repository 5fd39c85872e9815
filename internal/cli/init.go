package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "init [collection...]",
		Short: "Create collections",
		Long:  "Create the named collections, or the configured one, sized for the configured embedder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient()
			if err != nil {
				return err
			}
			defer closeClient(client)

			if err := client.Initialize(cmd.Context(), args...); err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{client.Collection()}
			}
			for _, name := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s ready (dims=%d)\n", name, client.Dimensions())
			}
			return nil
		},
	})
}

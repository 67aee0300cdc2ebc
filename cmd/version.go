package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func init() {
	tsubameCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Tsubame",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}

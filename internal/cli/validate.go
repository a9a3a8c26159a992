package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the sync configuration without executing",
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if errs := cfg.Sync.Validate(); len(errs) > 0 {
		for _, fe := range errs {
			fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", fe.Field, fe.Message, fe.Rule)
		}
		os.Exit(1)
	}

	fmt.Println("config is valid")
}

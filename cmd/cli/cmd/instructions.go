package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var instructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Read and write project editing instructions",
}

var instructionsGetCmd = &cobra.Command{
	Use:   "get [project_id]",
	Short: "Print an instruction version",
	Long:  `Print the markdown of an instruction version. Without --version the latest version is shown.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}
		version, _ := cmd.Flags().GetInt("version")

		in, err := client.GetInstruction(args[0], version)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("# version %d (%s)\n%s\n", in.Version, in.CreatedAt.Format("2006-01-02 15:04:05"), in.Markdown)
	},
}

var instructionsPutCmd = &cobra.Command{
	Use:   "put [project_id]",
	Short: "Write a new instruction version",
	Long: `Write a new instruction version on top of --base-version. Use --base-version 0
for the first version of a project. The markdown is read from --file, or from stdin
when --file is "-".`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}
		base, _ := cmd.Flags().GetInt("base-version")
		path, _ := cmd.Flags().GetString("file")

		var (
			markdown []byte
			err      error
		)
		if path == "-" {
			markdown, err = io.ReadAll(cmd.InOrStdin())
		} else {
			markdown, err = os.ReadFile(path)
		}
		if err != nil {
			cmd.Printf("Failed to read instructions: %v\n", err)
			return
		}

		in, err := client.PutInstruction(args[0], base, string(markdown))
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("📝 Instructions saved as version %d\n", in.Version)
	},
}

func init() {
	instructionsGetCmd.Flags().Int("version", 0, "Instruction version (default latest)")

	instructionsPutCmd.Flags().Int("base-version", 0, "Version the edit is based on")
	instructionsPutCmd.Flags().StringP("file", "f", "-", "Markdown file, or - for stdin")

	instructionsCmd.AddCommand(instructionsGetCmd, instructionsPutCmd)
	rootCmd.AddCommand(instructionsCmd)
}

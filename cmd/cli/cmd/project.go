package cmd

import (
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		project, err := client.CreateProject(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("✅ Project created!\nID:   %s\nName: %s\n", project.ID, project.Name)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		projects, err := client.ListProjects()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		if len(projects) == 0 {
			cmd.Println("No projects found.")
			return
		}

		cmd.Printf("%-38s %-20s %s\n", "ID", "CREATED", "NAME")
		for _, p := range projects {
			cmd.Printf("%-38s %-20s %s\n", p.ID, p.CreatedAt.Format("2006-01-02 15:04:05"), p.Name)
		}
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

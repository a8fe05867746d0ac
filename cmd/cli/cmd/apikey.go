package cmd

import (
	"draftplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Administer API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for a user",
	Long: `Issue an API key for a user. This calls an admin route and authenticates with
the controller's admin secret (--admin-secret or DRAFTPLANE_ADMIN_SECRET), not an API key.
The plaintext key is printed once and cannot be recovered.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		secret := viper.GetString("admin_secret")
		if secret == "" {
			cmd.Println("Admin secret not found. Please set it using the --admin-secret flag or the DRAFTPLANE_ADMIN_SECRET environment variable")
			return
		}
		userID, _ := cmd.Flags().GetString("user-id")
		role, _ := cmd.Flags().GetString("role")
		name, _ := cmd.Flags().GetString("name")

		client := NewDraftClient(viper.GetString("url"), secret)
		res, err := client.CreateAPIKey(api.CreateAPIKeyRequest{UserID: userID, Role: role, Name: name})
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("🔑 API key issued for %s (%s)\n%s\n", res.UserID, res.Role, res.APIKey)
	},
}

func init() {
	apikeyCreateCmd.Flags().String("user-id", "", "User the key authenticates as")
	apikeyCreateCmd.Flags().String("role", "", "Role recorded on the key (default editor)")
	apikeyCreateCmd.Flags().String("name", "", "Label for the key")
	apikeyCreateCmd.Flags().String("admin-secret", "", "Controller admin secret")
	viper.BindPFlag("admin_secret", apikeyCreateCmd.Flags().Lookup("admin-secret"))

	apikeyCmd.AddCommand(apikeyCreateCmd)
	rootCmd.AddCommand(apikeyCmd)
}

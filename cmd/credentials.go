package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/credentials"
)

// NewCredentialsCommand creates the credentials command.
func NewCredentialsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored database credentials",
		Long: `Manage stored database credentials.

The database password is kept in the system keyring under the account of the
configured database (postgres://user@host:port/name), so it never has to be
written to config.yaml. TERMIT_DATABASE_PASSWORD takes precedence over the
keyring when set.

Examples:
  termit credentials set-db-password
  termit credentials delete-db-password`,
		Aliases: []string{"creds"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-db-password",
		Short: "Store the database password in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			account := credentials.DatabaseAccount(cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			pw, err := credentials.ReadPassword(deps.In, deps.Out, fmt.Sprintf("Password for %s: ", account))
			if err != nil {
				return err
			}
			p := passwordProvider()
			if err := p.SetPassword(account, pw); err != nil {
				return fmt.Errorf("storing password: %w", err)
			}
			fmt.Fprintf(deps.Out, "Stored password for %s in %s\n", account, p.Description())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete-db-password",
		Short: "Remove the database password from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			account := credentials.DatabaseAccount(cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			p := passwordProvider()
			if err := p.DeletePassword(account); err != nil {
				return fmt.Errorf("deleting password: %w", err)
			}
			fmt.Fprintf(deps.Out, "Deleted password for %s from %s\n", account, p.Description())
			return nil
		},
	})

	return cmd
}

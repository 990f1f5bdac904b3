package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/npassword/npassword/pkg/vault"
)

// newRegisterCmd creates an account and its vault.
func newRegisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create a new account",
		Long: `Create a new account.

Usernames start with a letter and contain at least 4 letters, digits or
underscores. Passwords are at least 8 printable ASCII characters.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)

			username, err := p.usernameArg(args)
			if err != nil {
				return err
			}
			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}
			confirmation, err := p.secret("Confirm password: ")
			if err != nil {
				return err
			}

			e, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			acc, err := e.Register(cmd.Context(), username, password, confirmation)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account '%s' created\n", acc.Username)
			return nil
		},
	}
}

// newLoginCmd authenticates and shows the account's entries.
func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "login [username]",
		Aliases: []string{"list"},
		Short:   "Log in and list stored secrets",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			username, entries, err := a.login(cmd, p, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as '%s'\n", username)
			printEntries(out, entries)
			return nil
		},
	}
}

// newAddCmd authenticates, stores one entry and shows the refreshed list.
func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add [username] [description]",
		Short: "Store a new secret",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			username, _, err := a.login(cmd, p, args)
			if err != nil {
				return err
			}

			var description string
			if len(args) > 1 {
				description = args[1]
			} else if description, err = p.line("Description: "); err != nil {
				return err
			}
			secret, err := p.secret("Secret: ")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := a.engine.AddSecretEntry(ctx, username, description, secret); err != nil {
				return err
			}
			entries, err := a.engine.ListSecretEntries(ctx, username)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Secret '%s' saved\n", description)
			printEntries(out, entries)
			return nil
		},
	}
}

// login prompts for credentials and authenticates, returning the
// canonical username for later calls in the same command.
func (a *app) login(cmd *cobra.Command, p *prompter, args []string) (string, []vault.SecretEntry, error) {
	username, err := p.usernameArg(args)
	if err != nil {
		return "", nil, err
	}
	password, err := p.secret("Password: ")
	if err != nil {
		return "", nil, err
	}

	e, err := a.openEngine(cmd)
	if err != nil {
		return "", nil, err
	}
	acc, entries, err := e.Authenticate(cmd.Context(), username, password)
	if err != nil {
		return "", nil, err
	}
	return acc.Username, entries, nil
}

func printEntries(out io.Writer, entries []vault.SecretEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No secrets stored")
		return
	}
	for i, entry := range entries {
		fmt.Fprintf(out, "%d\t%s\t%s\n", i+1, entry.Description, entry.Secret)
	}
	fmt.Fprintf(out, "\nTotal: %d secrets\n", len(entries))
}


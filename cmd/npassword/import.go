package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/npassword/npassword/pkg/importer"
)

// newImportCmd stores the password entries of another manager's export.
func newImportCmd(a *app) *cobra.Command {
	var (
		from   string
		match  []string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import <file> [username]",
		Short: "Import secrets from another password manager",
		Long: `Import secrets from an export file into an account's vault.

Each exported login becomes one entry: the item name (and login name, if
any) becomes the description, the password becomes the secret. Names are
folded to plain ASCII; items without a storable password are skipped.

Sources:
  csv        two columns with a header row: description,secret
  1password  1Password CSV export
  bitwarden  Bitwarden unencrypted JSON export
  lastpass   LastPass CSV export

Examples:
  npassword import logins.csv alice1
  npassword import export.json alice1 --from bitwarden
  npassword import export.csv --from lastpass -m "AWS*" --dry-run`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := importer.Source(strings.ToLower(from))
			parser, err := importer.GetParser(source)
			if err != nil {
				return fmt.Errorf("invalid --from value '%s': must be one of %v", from, importer.ValidSources())
			}

			data, err := readImportFile(args[0])
			if err != nil {
				return err
			}
			result, err := parser.Parse(data)
			if err != nil {
				return fmt.Errorf("failed to parse %s file: %w", source, err)
			}

			stderr := cmd.ErrOrStderr()
			for _, warning := range result.Warnings {
				fmt.Fprintf(stderr, "Warning: %s\n", warning)
			}
			for _, skipped := range result.Skipped {
				fmt.Fprintf(stderr, "Skipped: %s (%s)\n", skipped.Original, skipped.Reason)
			}

			result.Items, err = importer.Filter(result.Items, match)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(result.Items) == 0 {
				fmt.Fprintln(out, "No secrets found in file")
				return nil
			}

			if dryRun {
				fmt.Fprintf(out, "Would import %d secrets:\n", len(result.Items))
				for _, item := range result.Items {
					fmt.Fprintf(out, "  %s\n", item.Description)
				}
				return nil
			}

			p := newPrompter(cmd)
			username, _, err := a.login(cmd, p, args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			n, err := a.engine.ImportSecretEntries(ctx, username, result.Drafts())
			if err != nil {
				return err
			}
			entries, err := a.engine.ListSecretEntries(ctx, username)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Imported %d secrets\n", n)
			printEntries(out, entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", string(importer.SourceCSV),
		"Export format: "+strings.Join(importer.ValidSources(), ", "))
	cmd.Flags().StringSliceVarP(&match, "match", "m", nil, "Import only descriptions matching a glob pattern (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be imported without logging in")
	return cmd
}

// readImportFile reads an export file, refusing symlinks.
func readImportFile(name string) ([]byte, error) {
	absPath, err := filepath.Abs(name)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", name)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", absPath)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", name)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

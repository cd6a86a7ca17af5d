package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/app"
	"github.com/j-veylop/limitwatch/internal/models"
	"github.com/j-veylop/limitwatch/internal/providers"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
	"github.com/j-veylop/limitwatch/internal/services/quota"
)

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"account"},
	Short:   "Manage the configured accounts",
}

var accountsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured accounts",
	Args:    cobra.NoArgs,
	RunE:    runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account, verifying its credentials first",
	Long: `Add an account to accounts.json. Credentials are checked against the
provider, which also fills in the account email, unless --no-verify is given.
Adding an account that already exists (same provider and email) updates it.

Browser and device-code logins are not handled here: obtain the refresh or
access token with the provider's own tooling and pass it in.`,
	Example: `  limitwatch accounts add --provider chutes --api-key cpk_... --alias main
  limitwatch accounts add --provider openrouter --api-key sk-or-... --group personal
  limitwatch accounts add --provider google --refresh-token 1//0g...`,
	Args: cobra.NoArgs,
	RunE: runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:     "remove <email-or-alias>",
	Aliases: []string{"rm"},
	Short:   "Remove an account",
	Args:    cobra.ExactArgs(1),
	RunE:    runAccountsRemove,
}

var accountsEditCmd = &cobra.Command{
	Use:   "edit <email-or-alias>",
	Short: "Change the alias or group of an account",
	Example: `  limitwatch accounts edit a@example.com --alias work
  limitwatch accounts edit work --group ""`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountsEdit,
}

var accountsUseCmd = &cobra.Command{
	Use:   "use <email-or-alias>",
	Short: "Mark an account as the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsUse,
}

func init() {
	accountsListCmd.Flags().Bool("json", false, "Print accounts as JSON (credentials omitted)")

	f := accountsAddCmd.Flags()
	f.String("provider", "", "Provider type: "+providerTypeList()+" (required)")
	f.String("email", "", "Account email or identifier (filled in by verification)")
	f.String("alias", "", "Short name used by --account")
	f.String("group", "", "Group used by --group")
	f.String("api-key", "", "API key (chutes, openrouter)")
	f.String("refresh-token", "", "OAuth refresh token (google, openai)")
	f.String("access-token", "", "OAuth access token (google, openai)")
	f.String("github-token", "", "GitHub token (github_copilot)")
	f.String("organization", "", "GitHub organization for seat usage (github_copilot)")
	f.String("project-id", "", "Google Cloud project (google)")
	f.Bool("no-verify", false, "Save without checking the credentials")
	_ = accountsAddCmd.MarkFlagRequired("provider")

	accountsEditCmd.Flags().String("alias", "", "New alias, empty to clear")
	accountsEditCmd.Flags().String("group", "", "New group, empty to clear")

	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsEditCmd, accountsRemoveCmd, accountsUseCmd)
	rootCmd.AddCommand(accountsCmd)
}

func providerTypeList() string {
	names := make([]string, len(models.ProviderTypes))
	for i, t := range models.ProviderTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func openAccounts(cmd *cobra.Command) (*accounts.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return accounts.Open(cfg.AccountsPath)
}

// accountView is the credential-free form of an account.
type accountView struct {
	Type     models.ProviderType `json:"type"`
	Email    string              `json:"email"`
	Alias    string              `json:"alias,omitempty"`
	Group    string              `json:"group,omitempty"`
	Services []string            `json:"services,omitempty"`
	Active   bool                `json:"active"`
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	svc, err := openAccounts(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	active := svc.Active()
	list := svc.GetAccounts()
	views := make([]accountView, len(list))
	for i, acc := range list {
		views[i] = accountView{
			Type:     acc.Type,
			Email:    acc.Email,
			Alias:    acc.Alias,
			Group:    acc.Group,
			Services: acc.Services,
			Active:   active != nil && active.Type == acc.Type && active.Email == acc.Email,
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, views)
	}
	if len(views) == 0 {
		fmt.Fprintf(out, "No accounts configured in %s\n", svc.Path())
		return nil
	}
	for _, v := range views {
		marker := " "
		if v.Active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-15s %s", marker, v.Type, v.Email)
		if v.Alias != "" {
			line += " (" + v.Alias + ")"
		}
		if v.Group != "" {
			line += " [" + v.Group + "]"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	providerName, _ := f.GetString("provider")
	ptype := models.ProviderType(providerName)
	if !ptype.Valid() {
		return fmt.Errorf("%w: %q (use %s)", providers.ErrUnknownProvider, providerName, providerTypeList())
	}

	acc := models.Account{Type: ptype}
	acc.Email, _ = f.GetString("email")
	acc.Alias, _ = f.GetString("alias")
	acc.Group, _ = f.GetString("group")
	acc.APIKey, _ = f.GetString("api-key")
	acc.RefreshToken, _ = f.GetString("refresh-token")
	acc.AccessToken, _ = f.GetString("access-token")
	acc.GitHubToken, _ = f.GetString("github-token")
	acc.Organization, _ = f.GetString("organization")
	acc.ProjectID, _ = f.GetString("project-id")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var verified providers.Provider
	if noVerify, _ := f.GetBool("no-verify"); !noVerify {
		p, err := providers.New(ptype, providers.Options{
			GoogleClientID:     cfg.GoogleClientID,
			GoogleClientSecret: cfg.GoogleClientSecret,
		})
		if err != nil {
			return err
		}
		if auth, ok := p.(providers.Authenticator); ok {
			if err := auth.Login(cmd.Context(), &acc); err != nil {
				return fmt.Errorf("failed to verify %s account: %w", p.Name(), err)
			}
		}
		verified = p
	}
	if acc.Email == "" {
		return errors.New("--email is required when the account is not verified")
	}

	svc, err := accounts.Open(cfg.AccountsPath)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.AddAccount(acc); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved %s account %s\n", acc.Type, acc.Name())
	if verified == nil {
		return nil
	}

	qs := quota.New(quota.Config{AccountTimeout: cfg.AccountTimeout})
	qs.Register(verified)
	res := qs.Fetch(cmd.Context(), acc, false)
	fmt.Fprintln(out)
	fmt.Fprint(out, app.RenderResults([]quota.Result{res}, app.RenderOptions{Width: terminalWidth()}))
	return nil
}

func runAccountsEdit(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	if !f.Changed("alias") && !f.Changed("group") {
		return errors.New("nothing to change, pass --alias or --group")
	}

	svc, err := openAccounts(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	found, err := svc.Find(args[0])
	if err != nil {
		return err
	}
	acc := found.Clone()
	if f.Changed("alias") {
		acc.Alias, _ = f.GetString("alias")
	}
	if f.Changed("group") {
		acc.Group, _ = f.GetString("group")
	}
	if err := svc.UpdateAccount(acc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s account %s\n", acc.Type, acc.Email)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	svc, err := openAccounts(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	acc, err := svc.Find(args[0])
	if err != nil {
		return err
	}
	if err := svc.DeleteAccount(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s account %s\n", acc.Type, acc.Email)
	return nil
}

func runAccountsUse(cmd *cobra.Command, args []string) error {
	svc, err := openAccounts(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.SetActive(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active account: %s\n", args[0])
	return nil
}

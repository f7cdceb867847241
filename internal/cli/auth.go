package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ccproxy-go/ccproxy/internal/credentials"
	"github.com/ccproxy-go/ccproxy/internal/oauth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider OAuth credentials",
	}
	cmd.AddCommand(newAuthLoginCmd(), newAuthInfoCmd(), newAuthValidateCmd())
	return cmd
}

func providerFlags(cmd *cobra.Command) (provider *string, credentialFile *string) {
	provider = cmd.Flags().String("provider", "anthropic", "provider to act on (anthropic, github-copilot)")
	credentialFile = cmd.Flags().String("credential-file", "", "explicit credential file path override")
	return
}

func resolveEngine(providerName, credentialFile string) (*oauth.Engine, credentials.Provider, error) {
	switch providerName {
	case "anthropic", "claude-code-cli":
		store := credentials.NewStore(credentials.ProviderAnthropic, credentialFile)
		return oauth.NewEngine(oauth.DefaultClaudeSpec, store, nil), credentials.ProviderAnthropic, nil
	case "github-copilot":
		store := credentials.NewStore(credentials.ProviderCopilot, credentialFile)
		return oauth.NewEngine(oauth.ProviderSpec{}, store, nil), credentials.ProviderCopilot, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", providerName)
	}
}

func newAuthLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the PKCE login flow and persist a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerName, _ := cmd.Flags().GetString("provider")
			credentialFile, _ := cmd.Flags().GetString("credential-file")

			engine, _, err := resolveEngine(providerName, credentialFile)
			if err != nil {
				return exitError("%w", err)
			}

			cred, err := engine.Login(context.Background(), openSystemBrowser)
			if err != nil {
				return exitError("login failed: %w", err)
			}

			fmt.Printf("logged in to %s (scopes: %v)\n", cred.Provider, cred.Scopes)
			return nil
		},
	}
	providerFlags(cmd)
	return cmd
}

func newAuthInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the stored credential's metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerName, _ := cmd.Flags().GetString("provider")
			credentialFile, _ := cmd.Flags().GetString("credential-file")

			_, provider, err := resolveEngine(providerName, credentialFile)
			if err != nil {
				return exitError("%w", err)
			}
			store := credentials.NewStore(provider, credentialFile)
			cred, err := store.Load()
			if err != nil {
				return exitError("loading credential: %w", err)
			}
			if cred == nil {
				fmt.Println("no stored credential")
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"provider":          cred.Provider,
				"expires_at":        cred.ExpiresAt,
				"scopes":            cred.Scopes,
				"subscription_tier": cred.SubscriptionTier,
				"token_type":        cred.TokenType,
			})
		},
	}
	providerFlags(cmd)
	return cmd
}

func newAuthValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Ensure the stored credential yields a non-expired access token, refreshing if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerName, _ := cmd.Flags().GetString("provider")
			credentialFile, _ := cmd.Flags().GetString("credential-file")

			engine, _, err := resolveEngine(providerName, credentialFile)
			if err != nil {
				return exitError("%w", err)
			}

			if _, err := engine.GetValidToken(context.Background()); err != nil {
				return exitError("credential invalid: %w", err)
			}
			fmt.Println("credential valid")
			return nil
		},
	}
	providerFlags(cmd)
	return cmd
}

// openSystemBrowser shells out to the OS's "open a URL" command, mirroring
// how the official CLIs these providers expect launch their own login flow.
func openSystemBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

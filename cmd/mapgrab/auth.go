package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mapgrab/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Mapillary access token",
	Long: `Store, inspect, or remove the Mapillary access token.

The token is kept in the system keychain when one is available. The
MAPGRAB_ACCESS_TOKEN environment variable works as a read-only fallback.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a Mapillary access token",
	Long: `Store a Mapillary access token securely.

Create a token at https://mapillary.com/dashboard/developers. The token is
read from the terminal without echoing.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an access token is configured",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored access token",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	fmt.Print("Mapillary access token: ")
	token, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	manager := auth.NewManager()
	if err := manager.Store(token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Println("Token stored.")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	if !manager.Exists() {
		fmt.Println("No access token configured.")
		fmt.Println("Run 'mapgrab auth login' or set " + auth.TokenEnvVar + ".")
		return nil
	}

	token, err := manager.Retrieve()
	if err != nil {
		return err
	}

	fmt.Printf("Access token configured (%s)\n", maskToken(token))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	if err := manager.Delete(); err != nil {
		if err == auth.ErrTokenNotFound {
			fmt.Println("No stored token to remove.")
			return nil
		}
		return err
	}

	fmt.Println("Token removed.")
	return nil
}

// readSecret reads a line without echoing when stdin is a terminal.
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

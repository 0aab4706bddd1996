package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mmchat/internal/api"
	"mmchat/internal/config"
	"mmchat/internal/logger"
	"mmchat/internal/session"
)

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type field struct {
	label string
	value *string
}

// promptMissing fills empty flag values interactively, in order.
func promptMissing(fields []field) error {
	reader := bufio.NewReader(os.Stdin)
	for _, f := range fields {
		if *f.value != "" {
			continue
		}
		v, err := prompt(reader, f.label)
		if err != nil {
			return err
		}
		*f.value = v
	}
	return nil
}

func printAuthError(err error) {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		fmt.Fprintln(os.Stderr, authErr.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	client := api.NewClient(cfg.Server.BaseURL)
	store := session.New(client, cfg.Storage.Path)
	store.Init()

	root := &cobra.Command{
		Use:           "mmchat",
		Short:         "Command-line client for the Multimodal Chat API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var email, username, password string

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the credential locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptMissing([]field{{"email", &email}, {"password", &password}}); err != nil {
				return err
			}
			if err := store.Login(cmd.Context(), email, password); err != nil {
				printAuthError(err)
				os.Exit(1)
			}
			cred, _ := store.Current()
			fmt.Printf("logged in as %s\n", cred.User.Username)
			return nil
		},
	}
	loginCmd.Flags().StringVar(&email, "email", "", "account email")
	loginCmd.Flags().StringVar(&password, "password", "", "account password")

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := []field{{"email", &email}, {"username", &username}, {"password", &password}}
			if err := promptMissing(fields); err != nil {
				return err
			}
			if err := store.Register(cmd.Context(), email, username, password); err != nil {
				printAuthError(err)
				os.Exit(1)
			}
			cred, _ := store.Current()
			fmt.Printf("registered as %s\n", cred.User.Username)
			return nil
		},
	}
	registerCmd.Flags().StringVar(&email, "email", "", "account email")
	registerCmd.Flags().StringVar(&username, "username", "", "display name")
	registerCmd.Flags().StringVar(&password, "password", "", "account password")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Run: func(cmd *cobra.Command, args []string) {
			store.Logout()
			fmt.Println("logged out")
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, ok := store.Current()
			if !ok {
				return errors.New("not logged in")
			}
			fmt.Printf("%s <%s> (id %d)\n", cred.User.Username, cred.User.Email, cred.User.ID)
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the API is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("api unreachable: %w", err)
			}
			fmt.Printf("%s (%s)\n", h.Status, h.Timestamp)
			return nil
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := store.Current(); !ok {
				return errors.New("not logged in; run `mmchat login` first")
			}
			return runChat(cmd.Context(), client)
		},
	}

	root.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, healthCmd, chatCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

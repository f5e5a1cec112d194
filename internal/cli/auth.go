package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/model"
)

func newLoginCmd(r *root) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a Fastmail API token",
		Long: `Validates an API token against the Fastmail session endpoint and stores it
in the system keyring. The token needs the Masked Email scope.

In a terminal the token is read with hidden input. Otherwise it is read
from --token or from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if token == "" {
				var err error
				if r.opts.Prompter.Interactive() {
					fmt.Fprintln(out, "Get your API token from: Fastmail → Settings → Privacy & Security → API tokens")
					fmt.Fprintln(out, "Create a new token with 'Masked Email' scope.")
					fmt.Fprintln(out)
					token, err = r.opts.Prompter.Token()
				} else {
					token, err = readLine(cmd.InOrStdin())
				}
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(token) == "" {
				return errors.New("token cannot be empty")
			}

			session, err := r.app.Login(cmd.Context(), token)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Fprintf(out, "Logged in as %s\n", session.Username)
			fmt.Fprintf(out, "Configuration saved to %s\n", r.app.ConfigPath)
			if strings.TrimSpace(os.Getenv(app.EnvToken)) != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is set and takes precedence over the stored token.\n", app.EnvToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API token (prefer the prompt or stdin; flags end up in shell history)")
	return cmd
}

func newLogoutCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token and the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newStatusCmd(r *root) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show login and cache state",
		Long: `Shows the config file, the logged-in account and the local cache.
Nothing is sent to Fastmail unless --check is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := r.app.Status(cmd.Context(), check)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			field(out, "Config", st.ConfigPath)
			if !st.LoggedIn() {
				field(out, "Logged in", "no (run 'tmail login')")
			} else {
				field(out, "Logged in", "yes")
			}
			field(out, "Username", st.Username)
			field(out, "Account", st.AccountID)
			field(out, "API URL", st.APIURL)
			field(out, "Token", orDefault(st.TokenSource, "none"))

			if st.CacheEnabled {
				field(out, "Cache", st.CachePath)
				field(out, "Cached", formatCounts(st.CacheCounts))
			} else {
				field(out, "Cache", "disabled")
			}

			if st.Checked {
				if st.CheckErr != nil {
					field(out, "Session", "invalid")
					return fmt.Errorf("session check failed: %w", st.CheckErr)
				}
				field(out, "Session", "valid")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "re-validate the token against the server")
	return cmd
}

// readLine returns the first line of in, trimmed.
func readLine(in io.Reader) (string, error) {
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return "", nil
}

var stateOrder = map[model.MaskedEmailState]int{
	model.StateEnabled:  0,
	model.StatePending:  1,
	model.StateDisabled: 2,
	model.StateDeleted:  3,
}

func formatCounts(counts map[model.MaskedEmailState]int) string {
	if len(counts) == 0 {
		return "empty"
	}

	states := make([]model.MaskedEmailState, 0, len(counts))
	for st := range counts {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		return stateOrder[states[i]] < stateOrder[states[j]]
	})

	parts := make([]string, 0, len(states))
	for _, st := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
	}
	return strings.Join(parts, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

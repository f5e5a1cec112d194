package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/prompt"
)

var errNoAddress = errors.New(`no email address specified

Usage: tmail masked delete <EMAIL>

To see your masked emails, run:
  tmail masked list

To include disabled/deleted emails:
  tmail masked list --all`)

func newMaskedCmd(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "masked",
		Aliases: []string{"m"},
		Short:   "Create and manage masked email addresses",
	}

	cmd.AddCommand(
		newListCmd(r),
		newCreateCmd(r),
		newUpdateCmd(r),
		newEnableCmd(r),
		newDeleteCmd(r),
		newDestroyCmd(r),
		newShowCmd(r),
		newHistoryCmd(r),
	)
	return cmd
}

func newListCmd(r *root) *cobra.Command {
	var (
		opts   app.ListOptions
		cached bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List masked emails",
		Long: `Lists enabled masked emails, one per line:

  email  created  website  description

With --all every state is listed and a state column is added after the
creation date. --cached reads the local cache without contacting Fastmail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				emails []model.MaskedEmail
				err    error
			)
			if cached {
				emails, err = r.app.ListCached(cmd.Context(), opts)
			} else {
				emails, err = r.app.List(cmd.Context(), opts)
			}
			if err != nil {
				return fmt.Errorf("failed to list masked emails: %w", err)
			}

			if asJSON {
				if emails == nil {
					emails = []model.MaskedEmail{}
				}
				return writeJSON(cmd.OutOrStdout(), emails)
			}
			writeList(cmd.OutOrStdout(), emails, opts.All)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.All, "all", "a", false, "include pending, disabled and deleted addresses")
	flags.StringVarP(&opts.Search, "search", "s", "", "only addresses whose email, description or website contains this text")
	flags.BoolVar(&cached, "cached", false, "read the local cache instead of the server")
	flags.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCreateCmd(r *root) *cobra.Command {
	var (
		description string
		website     string
		url         string
		state       string
		prefix      string
		copyAddr    bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Create a masked email",
		Long: `Creates a new masked email and prints its address.

When no description is given and standard input is a terminal, the
description and website are asked for interactively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("description") && r.opts.Prompter.Interactive() {
				if err := r.opts.Prompter.Details(&description, &website); err != nil {
					return err
				}
			}
			website = strings.TrimSpace(website)
			if err := prompt.ValidateWebsite(website); err != nil {
				return err
			}

			st := model.MaskedEmailState(state)
			if !st.Valid() {
				return fmt.Errorf("unknown state %q: use enabled or pending", state)
			}

			me, err := r.app.Create(cmd.Context(), model.NewMaskedEmail{
				State:       st,
				ForDomain:   website,
				Description: strings.TrimSpace(description),
				URL:         strings.TrimSpace(url),
				EmailPrefix: prefix,
			})
			if err != nil {
				return err
			}

			if copyAddr {
				if err := r.opts.Clipboard(me.Email); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not copy to clipboard: %v\n", err)
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard.")
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), me)
			}
			fmt.Fprintln(cmd.OutOrStdout(), me.Email)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&description, "description", "d", "", "what the address is for")
	flags.StringVarP(&website, "website", "w", "", "domain the address is used on")
	flags.StringVar(&url, "url", "", "link to store with the address")
	flags.StringVar(&state, "state", string(model.StateEnabled), "initial state: enabled or pending")
	flags.StringVar(&prefix, "prefix", "", "ask the server to start the address with this text")
	flags.BoolVarP(&copyAddr, "copy", "c", false, "copy the new address to the clipboard")
	flags.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newUpdateCmd(r *root) *cobra.Command {
	var description, website, url string

	cmd := &cobra.Command{
		Use:   "update <email>",
		Short: "Change the description or website of a masked email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			var u model.MaskedEmailUpdate
			flags := cmd.Flags()
			if flags.Changed("description") {
				u.Description = &description
			}
			if flags.Changed("website") {
				website = strings.TrimSpace(website)
				if err := prompt.ValidateWebsite(website); err != nil {
					return err
				}
				u.ForDomain = &website
			}
			if flags.Changed("url") {
				u.URL = &url
			}

			me, err := r.app.Update(cmd.Context(), email, u)
			if err != nil {
				return withHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", me.Email)
			return nil
		},
		ValidArgsFunction: r.completeAddresses(),
	}

	flags := cmd.Flags()
	flags.StringVarP(&description, "description", "d", "", "new description")
	flags.StringVarP(&website, "website", "w", "", "new website")
	flags.StringVar(&url, "url", "", "new link")
	return cmd
}

func newEnableCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <email>",
		Short: "Enable a masked email again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			me, err := r.app.Enable(cmd.Context(), email)
			if err != nil {
				return withHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enabled: %s\n", me.Email)
			return nil
		},
		ValidArgsFunction: r.completeAddresses(model.StateDisabled, model.StatePending),
	}
}

func newDeleteCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [email]",
		Aliases: []string{"disable", "archive"},
		Short:   "Archive a masked email",
		Long: `Disables a masked email. Mail sent to it goes straight to the trash.
The address can be enabled again later.

Without an argument, a terminal offers a list of enabled addresses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var email string
			switch {
			case len(args) == 1:
				addr, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				email = addr
			case r.opts.Prompter.Interactive():
				emails, err := r.app.List(cmd.Context(), app.ListOptions{})
				if err != nil {
					return fmt.Errorf("failed to list masked emails: %w", err)
				}
				if len(emails) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No masked emails found.")
					return nil
				}
				email, err = r.opts.Prompter.SelectMaskedEmail("Archive which masked email?", emails)
				if err != nil {
					return err
				}
			default:
				return errNoAddress
			}

			me, err := r.app.Disable(cmd.Context(), email)
			if err != nil {
				if errors.Is(err, app.ErrNotFound) {
					return withHint(err)
				}
				return fmt.Errorf("failed to archive masked email: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived: %s\n", me.Email)
			return nil
		},
		ValidArgsFunction: r.completeAddresses(model.StateEnabled, model.StatePending),
	}
}

func newDestroyCmd(r *root) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy <email>",
		Short: "Delete a masked email",
		Long: `Moves a masked email to the deleted state. Mail sent to it is rejected.
Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			if !yes {
				if !r.opts.Prompter.Interactive() {
					return fmt.Errorf("refusing to delete %s without confirmation: pass --yes", email)
				}
				ok, err := r.opts.Prompter.Confirm(fmt.Sprintf("Delete %s? Mail sent to it will bounce.", email))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			me, err := r.app.Destroy(cmd.Context(), email)
			if err != nil {
				return withHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", me.Email)
			return nil
		},
		ValidArgsFunction: r.completeAddresses(),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newShowCmd(r *root) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <email>",
		Short: "Show every field of a masked email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			me, err := r.app.Find(cmd.Context(), email)
			if err != nil {
				return withHint(err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), me)
			}
			writeDetail(cmd.OutOrStdout(), me)
			return nil
		},
		ValidArgsFunction: r.completeAddresses(),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryCmd(r *root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show changes made with tmail",
		Long:  `Lists the masked emails created, updated, archived and deleted from this machine, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := r.app.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writeHistory(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries (0 for all)")
	return cmd
}

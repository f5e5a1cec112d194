package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/spf13/cobra"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/theme"
)

const listHint = `

To see your masked emails, run:
  tmail masked list --all`

// field prints one "Label: value" line of a detail listing.
func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s%s\n", theme.LabelStyle.Render(label+":"), value)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeList prints one tab-separated line per alias. The state column is
// only present when every state is listed.
func writeList(w io.Writer, emails []model.MaskedEmail, withState bool) {
	if len(emails) == 0 {
		fmt.Fprintln(w, "No masked emails found.")
		return
	}
	for _, me := range emails {
		if withState {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				me.Email, me.CreatedDate(), me.State, me.ForDomain, me.Description)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				me.Email, me.CreatedDate(), me.ForDomain, me.Description)
		}
	}
}

func writeDetail(w io.Writer, me *model.MaskedEmail) {
	field(w, "Email", me.Email)
	field(w, "ID", me.ID)
	field(w, "State", theme.StateStyle(me.State).Render(string(me.State)))
	field(w, "Description", me.Description)
	field(w, "Website", me.ForDomain)
	field(w, "URL", me.URL)
	field(w, "Created by", me.CreatedBy)
	field(w, "Created", orDefault(formatTime(me.CreatedAt), me.CreatedAtRaw))
	field(w, "Last message", formatTime(me.LastMessageAt))
}

func writeHistory(w io.Writer, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No history yet.")
		return
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Action, e.Email, e.Detail)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(time.RFC3339)
}

// parseAddress validates an RFC 5322 address argument and returns the
// bare address.
func parseAddress(arg string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("invalid email address %q: %w", arg, err)
	}
	return addr.Address, nil
}

// withHint appends the list hint to not-found errors.
func withHint(err error) error {
	if errors.Is(err, app.ErrNotFound) {
		return fmt.Errorf("%w%s", err, listHint)
	}
	return err
}

// completeAddresses completes the first argument from the cache.
func (r *root) completeAddresses(states ...model.MaskedEmailState) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 || r.setup() != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		prefix := strings.ToLower(toComplete)
		var out []cobra.Completion
		for _, addr := range r.app.CachedAddresses(ctx, states...) {
			if strings.HasPrefix(strings.ToLower(addr), prefix) {
				out = append(out, addr)
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}

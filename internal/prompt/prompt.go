package prompt

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/theme"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted")

// Prompter asks the user for input on a terminal.
type Prompter interface {
	// Interactive reports whether the input is a terminal.
	Interactive() bool

	Token() (string, error)
	Details(description, website *string) error
	SelectMaskedEmail(title string, emails []model.MaskedEmail) (string, error)
	Confirm(title string) (bool, error)
}

// Terminal is the huh-backed Prompter.
type Terminal struct {
	in  *os.File
	out io.Writer
}

// NewTerminal returns a Prompter reading from in and drawing on out.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (t *Terminal) Interactive() bool {
	return IsTerminal(t.in)
}

func (t *Terminal) run(form *huh.Form) error {
	err := form.
		WithInput(t.in).
		WithOutput(t.out).
		WithShowHelp(false).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

// Token asks for a Fastmail API token with hidden input.
func (t *Terminal) Token() (string, error) {
	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Fastmail API token").
				Description("Settings > Privacy & Security > Integrations > API tokens").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(ValidateToken),
		),
	)
	if err := t.run(form); err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Details asks for the description and website of a new alias. Both are
// optional.
func (t *Terminal) Details(description, website *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Description").
				Description("What this address is for").
				Placeholder("Newsletter").
				Value(description),
			huh.NewInput().
				Title("Website").
				Description("Optional domain the address is used on").
				Placeholder("example.com").
				Value(website).
				Validate(ValidateWebsite),
		),
	)
	return t.run(form)
}

// SelectMaskedEmail offers emails as a list and returns the chosen address.
func (t *Terminal) SelectMaskedEmail(
	title string,
	emails []model.MaskedEmail,
) (string, error) {
	if len(emails) == 0 {
		return "", fmt.Errorf("no masked emails to choose from")
	}

	options := make([]huh.Option[string], 0, len(emails))
	for _, me := range emails {
		options = append(options, huh.NewOption(OptionLabel(me), me.Email))
	}

	var chosen string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(options...).
				Height(12).
				Value(&chosen),
		),
	)
	if err := t.run(form); err != nil {
		return "", err
	}
	return chosen, nil
}

// Confirm asks a yes/no question. The default answer is no.
func (t *Terminal) Confirm(title string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := t.run(form); err != nil {
		return false, err
	}
	return ok, nil
}

// OptionLabel renders a masked email for selection lists.
func OptionLabel(me model.MaskedEmail) string {
	label := theme.AddressStyle.Render(me.Email)
	var extra []string
	if me.Description != "" {
		extra = append(extra, me.Description)
	}
	if me.ForDomain != "" {
		extra = append(extra, me.ForDomain)
	}
	if len(extra) > 0 {
		label += "  " + strings.Join(extra, " · ")
	}
	return label
}

// ValidateToken rejects blank tokens.
func ValidateToken(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("token cannot be empty")
	}
	return nil
}

// ValidateWebsite accepts an empty value, a bare domain, or an http(s) URL.
func ValidateWebsite(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.ContainsAny(s, " \t") {
		return fmt.Errorf("website must not contain spaces")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid website: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("website must be a domain or an http(s) URL")
	}
	if parsed.Host == "" {
		return fmt.Errorf("website must include a host (e.g., example.com)")
	}
	return nil
}

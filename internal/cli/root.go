package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/prompt"
	"github.com/nhle/tmail/internal/ui/browse"
)

// Options carries the process I/O and the collaborators of the commands.
// Zero values are replaced with the real terminal, clipboard and browser.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Prompter  prompt.Prompter
	Clipboard func(string) error

	// Browse runs the full-screen browser.
	Browse func(*app.App) error

	// Transport and Tokens are handed to app.New.
	Transport http.RoundTripper
	Tokens    app.TokenStore
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Prompter == nil {
		o.Prompter = prompt.NewTerminal(os.Stdin, os.Stderr)
	}
	if o.Clipboard == nil {
		o.Clipboard = clipboard.WriteAll
	}
	if o.Browse == nil {
		o.Browse = browse.Run
	}
	return o
}

// root holds the global flags and the App shared by one invocation.
type root struct {
	opts Options

	configPath string
	logLevel   string
	timeout    time.Duration

	app *app.App
}

func newRoot(opts Options) *root {
	return &root{opts: opts.withDefaults()}
}

// Execute runs tmail with args and releases the App afterwards.
func Execute(ctx context.Context, opts Options, args []string) error {
	r := newRoot(opts)
	defer r.close()

	cmd := r.command()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCmd creates the command tree. Every call returns fresh
// instances so commands can be inspected in isolation.
func NewRootCmd(opts Options) *cobra.Command {
	return newRoot(opts).command()
}

func (r *root) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tmail",
		Short: "Manage Fastmail masked email addresses",
		Long: `tmail creates and manages Fastmail masked email addresses over JMAP.

Log in once with an API token that has the Masked Email scope, then
create a fresh address per website and archive it when it starts
receiving spam.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}
			return r.setup()
		},
	}

	cmd.SetIn(r.opts.Stdin)
	cmd.SetOut(r.opts.Stdout)
	cmd.SetErr(r.opts.Stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&r.configPath, "config", "", "config file (default ~/.config/tmail/config.yaml)")
	flags.StringVar(&r.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.DurationVar(&r.timeout, "timeout", 0, "timeout of a single request (e.g. 10s)")

	cmd.AddCommand(
		newLoginCmd(r),
		newLogoutCmd(r),
		newStatusCmd(r),
		newMaskedCmd(r),
		newBrowseCmd(r),
	)

	return cmd
}

// setup loads the configuration and opens the cache.
func (r *root) setup() error {
	if r.app != nil {
		return nil
	}
	a, err := app.New(app.Options{
		ConfigPath: r.configPath,
		LogLevel:   r.logLevel,
		Timeout:    r.timeout,
		Stderr:     r.opts.Stderr,
		Transport:  r.opts.Transport,
		Tokens:     r.opts.Tokens,
	})
	if err != nil {
		return err
	}
	r.app = a
	return nil
}

func (r *root) close() {
	if r.app == nil {
		return
	}
	if err := r.app.Close(); err != nil {
		r.app.Log.WithError(err).Debug("closing app")
	}
	r.app = nil
}

// skipSetup reports whether cmd runs without configuration. Completion
// scripts need none, and completion requests set up lazily once their
// flags are parsed.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "completion" {
			return true
		}
	}
	return false
}

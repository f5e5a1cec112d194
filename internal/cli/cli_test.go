package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/testutil"
)

const testToken = "fmu1-test-token"

type fakePrompter struct {
	interactive bool

	token       string
	description string
	website     string
	selected    string
	confirm     bool
	err         error

	asked []string
}

func (p *fakePrompter) Interactive() bool { return p.interactive }

func (p *fakePrompter) Token() (string, error) {
	p.asked = append(p.asked, "token")
	return p.token, p.err
}

func (p *fakePrompter) Details(description, website *string) error {
	p.asked = append(p.asked, "details")
	*description = p.description
	*website = p.website
	return p.err
}

func (p *fakePrompter) SelectMaskedEmail(title string, emails []model.MaskedEmail) (string, error) {
	p.asked = append(p.asked, "select")
	return p.selected, p.err
}

func (p *fakePrompter) Confirm(title string) (bool, error) {
	p.asked = append(p.asked, "confirm")
	return p.confirm, p.err
}

type harness struct {
	t          *testing.T
	srv        *testutil.FakeJMAP
	configPath string
	prompter   *fakePrompter
	stdin      string
	copied     []string
	browsed    *app.App
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(app.EnvToken, "")

	srv := testutil.NewFakeJMAP(t, testToken)
	dir := t.TempDir()

	cfg := model.DefaultAppConfig()
	cfg.SessionURL = srv.SessionURL()
	cfg.MaxRetries = 1
	cfg.Credential = model.CredentialConfig{Backend: "file", FileDir: filepath.Join(dir, "credentials")}
	cfg.Cache.Path = filepath.Join(dir, "cache.db")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, model.SaveConfig(path, cfg))

	return &harness{
		t:          t,
		srv:        srv,
		configPath: path,
		prompter:   &fakePrompter{},
	}
}

func (h *harness) options(stdout, stderr *bytes.Buffer) Options {
	return Options{
		Stdin:    strings.NewReader(h.stdin),
		Stdout:   stdout,
		Stderr:   stderr,
		Prompter: h.prompter,
		Clipboard: func(s string) error {
			h.copied = append(h.copied, s)
			return nil
		},
		Browse: func(a *app.App) error {
			h.browsed = a
			return nil
		},
	}
}

// run executes tmail with args and returns stdout and stderr.
func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", h.configPath}, args...)
	err := Execute(context.Background(), h.options(&stdout, &stderr), args)
	return stdout.String(), stderr.String(), err
}

func (h *harness) login() {
	h.t.Helper()
	_, _, err := h.run("login", "--token", testToken)
	require.NoError(h.t, err)
}

// fieldValue returns the value of a "Label: value" line.
func fieldValue(out, label string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, label+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, label+":"))
		}
	}
	return ""
}

func findSubcommand(cmd *cobra.Command, path ...string) *cobra.Command {
	found, _, err := cmd.Find(path)
	if err != nil || found == cmd {
		return nil
	}
	return found
}

func TestNewRootCmd_Commands(t *testing.T) {
	root := NewRootCmd(Options{})

	for _, path := range [][]string{
		{"login"},
		{"logout"},
		{"status"},
		{"browse"},
		{"masked", "list"},
		{"masked", "create"},
		{"masked", "update"},
		{"masked", "enable"},
		{"masked", "delete"},
		{"masked", "disable"},
		{"masked", "archive"},
		{"masked", "destroy"},
		{"masked", "show"},
		{"masked", "history"},
	} {
		cmd := findSubcommand(root, path...)
		require.NotNil(t, cmd, "command %v not found", path)
		assert.NotEmpty(t, cmd.Short, "command %v has no short help", path)
	}

	del := findSubcommand(root, "masked", "archive")
	assert.Equal(t, "delete", del.Name())
	assert.Contains(t, del.Long, "trash")

	for _, name := range []string{"config", "log-level", "timeout"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
}

func TestLogin_Stdin(t *testing.T) {
	h := newHarness(t)
	h.stdin = testToken + "\n"

	out, _, err := h.run("login")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as user@fastmail.com\n")
	assert.Contains(t, out, "Configuration saved to "+h.configPath)
	assert.Empty(t, h.prompter.asked)

	cfg, err := model.LoadConfig(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, h.srv.AccountID, cfg.AccountID)
}

func TestLogin_Interactive(t *testing.T) {
	h := newHarness(t)
	h.prompter.interactive = true
	h.prompter.token = testToken

	out, _, err := h.run("login")
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, h.prompter.asked)
	assert.Contains(t, out, "Privacy & Security")
	assert.Contains(t, out, "Logged in as user@fastmail.com")
}

func TestLogin_EmptyToken(t *testing.T) {
	h := newHarness(t)
	h.stdin = "\n"

	_, _, err := h.run("login")
	assert.EqualError(t, err, "token cannot be empty")
}

func TestLogin_InvalidToken(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("login", "--token", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	assert.Contains(t, err.Error(), "tmail login")

	_, _, err = h.run("masked", "list")
	assert.ErrorIs(t, err, app.ErrNotLoggedIn)
}

func TestLogin_EnvTokenNote(t *testing.T) {
	h := newHarness(t)
	t.Setenv(app.EnvToken, testToken)

	_, stderr, err := h.run("login", "--token", testToken)
	require.NoError(t, err)
	assert.Contains(t, stderr, app.EnvToken+" is set")
}

func TestMaskedList(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", ForDomain: "shop.example", Description: "Shop"})
	h.srv.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com", State: "disabled", Description: "Old"})

	out, _, err := h.run("masked", "list")
	require.NoError(t, err)
	assert.Equal(t, "shop@fastmail.com\t2024-01-15\tshop.example\tShop\n", out)

	out, _, err = h.run("masked", "list", "--all")
	require.NoError(t, err)
	assert.Equal(t,
		"shop@fastmail.com\t2024-01-15\tenabled\tshop.example\tShop\n"+
			"old@fastmail.com\t2024-01-15\tdisabled\t\tOld\n",
		out)

	out, _, err = h.run("masked", "list", "--all", "--search", "OLD")
	require.NoError(t, err)
	assert.Equal(t, "old@fastmail.com\t2024-01-15\tdisabled\t\tOld\n", out)
}

func TestMaskedList_Empty(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com", State: "deleted"})

	out, _, err := h.run("masked", "list")
	require.NoError(t, err)
	assert.Equal(t, "No masked emails found.\n", out)
}

func TestMaskedList_CachedJSON(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", Description: "Shop"})

	_, _, err := h.run("masked", "list")
	require.NoError(t, err)
	calls := len(h.srv.Calls())

	out, _, err := h.run("masked", "list", "--cached", "--json")
	require.NoError(t, err)
	assert.Len(t, h.srv.Calls(), calls, "cached list must not contact the server")

	var emails []model.MaskedEmail
	require.NoError(t, json.Unmarshal([]byte(out), &emails))
	require.Len(t, emails, 1)
	assert.Equal(t, "shop@fastmail.com", emails[0].Email)
	assert.Equal(t, "Shop", emails[0].Description)
}

func TestMaskedCreate(t *testing.T) {
	h := newHarness(t)
	h.login()

	out, stderr, err := h.run("masked", "create", "-d", "Shop", "-w", "shop.example", "--copy")
	require.NoError(t, err)
	assert.Equal(t, "masked.1@fastmail.com\n", out)
	assert.Equal(t, []string{"masked.1@fastmail.com"}, h.copied)
	assert.Contains(t, stderr, "Copied to clipboard.")

	call := h.srv.LastCall(t)
	assert.Equal(t, "MaskedEmail/set", call.Method)
	create, ok := call.Args["create"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, create, 1)
	for _, v := range create {
		props := v.(map[string]interface{})
		assert.Equal(t, "enabled", props["state"])
		assert.Equal(t, "Shop", props["description"])
		assert.Equal(t, "shop.example", props["forDomain"])
	}
}

func TestMaskedCreate_Interactive(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.prompter.interactive = true
	h.prompter.description = "News"
	h.prompter.website = "news.example"

	out, _, err := h.run("masked", "create", "--state", "pending", "--prefix", "news")
	require.NoError(t, err)
	assert.Equal(t, []string{"details"}, h.prompter.asked)
	assert.Equal(t, "news.1@fastmail.com\n", out)

	me := h.srv.Find("news.1@fastmail.com")
	require.NotNil(t, me)
	assert.Equal(t, "News", me.Description)
	assert.Equal(t, "news.example", me.ForDomain)
	assert.Equal(t, "pending", me.State)
}

func TestMaskedCreate_DescriptionSkipsPrompt(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.prompter.interactive = true

	_, _, err := h.run("masked", "create", "-d", "Shop")
	require.NoError(t, err)
	assert.Empty(t, h.prompter.asked)
}

func TestMaskedCreate_Invalid(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, _, err := h.run("masked", "create", "-w", "not a site")
	assert.EqualError(t, err, "website must not contain spaces")

	_, _, err = h.run("masked", "create", "--state", "archived")
	assert.EqualError(t, err, `unknown state "archived": use enabled or pending`)

	_, _, err = h.run("masked", "create", "--state", "disabled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be enabled or pending")

	assert.Empty(t, h.srv.Calls())
}

func TestMaskedCreate_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.CreateError = "rateLimit"

	_, _, err := h.run("masked", "create", "-d", "Shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating masked email: rate limit reached")
}

func TestMaskedDelete(t *testing.T) {
	h := newHarness(t)
	h.login()
	me := h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})

	out, _, err := h.run("masked", "delete", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Archived: shop@fastmail.com\n", out)
	assert.Equal(t, "disabled", h.srv.Find("shop@fastmail.com").State)

	call := h.srv.LastCall(t)
	assert.Equal(t, "MaskedEmail/set", call.Method)
	assert.Equal(t, map[string]interface{}{
		me.ID: map[string]interface{}{"state": "disabled"},
	}, call.Args["update"])
}

func TestMaskedDelete_Aliases(t *testing.T) {
	for _, name := range []string{"disable", "archive"} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.login()
			h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})

			out, _, err := h.run("masked", name, "Shop <shop@fastmail.com>")
			require.NoError(t, err)
			assert.Equal(t, "Archived: shop@fastmail.com\n", out)
		})
	}
}

func TestMaskedDelete_NoArgument(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, _, err := h.run("masked", "delete")
	require.ErrorIs(t, err, errNoAddress)
	assert.Contains(t, err.Error(), "Usage: tmail masked delete <EMAIL>")
	assert.Contains(t, err.Error(), "tmail masked list --all")
}

func TestMaskedDelete_Select(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})
	h.prompter.interactive = true
	h.prompter.selected = "shop@fastmail.com"

	out, _, err := h.run("masked", "delete")
	require.NoError(t, err)
	assert.Equal(t, []string{"select"}, h.prompter.asked)
	assert.Equal(t, "Archived: shop@fastmail.com\n", out)
}

func TestMaskedDelete_NotFound(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, _, err := h.run("masked", "delete", "missing@fastmail.com")
	require.ErrorIs(t, err, app.ErrNotFound)
	assert.Contains(t, err.Error(), "masked email 'missing@fastmail.com' not found")
	assert.Contains(t, err.Error(), "tmail masked list --all")
}

func TestMaskedDelete_InvalidAddress(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, _, err := h.run("masked", "delete", "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email address")
	assert.Empty(t, h.srv.Calls())
}

func TestMaskedEnable(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com", State: "disabled"})

	out, _, err := h.run("masked", "enable", "old@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Enabled: old@fastmail.com\n", out)
	assert.Equal(t, "enabled", h.srv.Find("old@fastmail.com").State)
}

func TestMaskedDestroy(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})

	_, _, err := h.run("masked", "destroy", "shop@fastmail.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass --yes")

	h.prompter.interactive = true
	out, _, err := h.run("masked", "destroy", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled.\n", out)
	assert.Equal(t, "enabled", h.srv.Find("shop@fastmail.com").State)

	h.prompter.confirm = true
	out, _, err = h.run("masked", "destroy", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Deleted: shop@fastmail.com\n", out)
	assert.Equal(t, "deleted", h.srv.Find("shop@fastmail.com").State)
	assert.Equal(t, []string{"confirm", "confirm"}, h.prompter.asked)
}

func TestMaskedDestroy_Yes(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})

	out, _, err := h.run("masked", "destroy", "--yes", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Deleted: shop@fastmail.com\n", out)
	assert.Empty(t, h.prompter.asked)
}

func TestMaskedUpdate(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", Description: "Shop"})

	out, _, err := h.run("masked", "update", "shop@fastmail.com", "-d", "Groceries", "-w", "grocer.example")
	require.NoError(t, err)
	assert.Equal(t, "Updated: shop@fastmail.com\n", out)

	me := h.srv.Find("shop@fastmail.com")
	assert.Equal(t, "Groceries", me.Description)
	assert.Equal(t, "grocer.example", me.ForDomain)

	_, _, err = h.run("masked", "update", "shop@fastmail.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestMaskedShow(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{
		Email: "shop@fastmail.com", Description: "Shop", ForDomain: "shop.example",
	})

	out, _, err := h.run("masked", "show", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "shop@fastmail.com", fieldValue(out, "Email"))
	assert.Equal(t, "masked-1", fieldValue(out, "ID"))
	assert.Equal(t, "enabled", fieldValue(out, "State"))
	assert.Equal(t, "Shop", fieldValue(out, "Description"))
	assert.Equal(t, "shop.example", fieldValue(out, "Website"))

	out, _, err = h.run("masked", "show", "--json", "shop@fastmail.com")
	require.NoError(t, err)
	var me model.MaskedEmail
	require.NoError(t, json.Unmarshal([]byte(out), &me))
	assert.Equal(t, "masked-1", me.ID)
	assert.Equal(t, model.StateEnabled, me.State)
}

func TestMaskedList_SpaceSeparatedCreatedAt(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", CreatedAt: "2024-01-15 10:30:00", Description: "Shop"})
	h.srv.Add(testutil.FakeMaskedEmail{Email: "odd@fastmail.com", CreatedAt: "2024-02-01 at noon", Description: "Odd"})

	out, _, err := h.run("masked", "list")
	require.NoError(t, err)
	assert.Equal(t,
		"shop@fastmail.com\t2024-01-15\t\tShop\n"+
			"odd@fastmail.com\t2024-02-01\t\tOdd\n",
		out)

	out, _, err = h.run("masked", "show", "odd@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01 at noon", fieldValue(out, "Created"))

	out, _, err = h.run("masked", "delete", "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Archived: shop@fastmail.com\n", out)
}

func TestMaskedHistory(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, _, err := h.run("masked", "create", "-d", "Shop")
	require.NoError(t, err)
	_, _, err = h.run("masked", "delete", "masked.1@fastmail.com")
	require.NoError(t, err)

	out, _, err := h.run("masked", "history", "--limit", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "\tdisabled\tmasked.1@fastmail.com")
	assert.Contains(t, lines[1], "\tcreated\tmasked.1@fastmail.com\tShop")
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run("status")
	require.NoError(t, err)
	assert.Equal(t, h.configPath, fieldValue(out, "Config"))
	assert.Equal(t, "no (run 'tmail login')", fieldValue(out, "Logged in"))
	assert.Equal(t, "none", fieldValue(out, "Token"))

	h.login()
	_, _, err = h.run("masked", "list")
	require.NoError(t, err)

	out, _, err = h.run("status", "--check")
	require.NoError(t, err)
	assert.Equal(t, "yes", fieldValue(out, "Logged in"))
	assert.Equal(t, "user@fastmail.com", fieldValue(out, "Username"))
	assert.Equal(t, h.srv.AccountID, fieldValue(out, "Account"))
	assert.Equal(t, "credential store", fieldValue(out, "Token"))
	assert.Equal(t, "empty", fieldValue(out, "Cached"))
	assert.Equal(t, "valid", fieldValue(out, "Session"))
}

func TestStatus_CheckFails(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Token = "revoked"

	out, _, err := h.run("status", "--check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session check failed")
	assert.Equal(t, "invalid", fieldValue(out, "Session"))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login()

	out, _, err := h.run("logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out.\n", out)

	_, _, err = h.run("masked", "list")
	assert.ErrorIs(t, err, app.ErrNotLoggedIn)
}

func TestBrowse(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("browse")
	require.NoError(t, err)
	require.NotNil(t, h.browsed)
	assert.Equal(t, h.configPath, h.browsed.ConfigPath)
}

func TestCompleteAddresses(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})
	h.srv.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com", State: "disabled"})
	h.srv.Add(testutil.FakeMaskedEmail{Email: "Travel.Site@Fastmail.com"})
	_, _, err := h.run("masked", "list", "--all")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	r := newRoot(h.options(&stdout, &stderr))
	r.configPath = h.configPath
	defer r.close()

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	got, directive := r.completeAddresses(model.StateDisabled)(cmd, nil, "")
	assert.Equal(t, []string{"old@fastmail.com"}, got)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	got, _ = r.completeAddresses()(cmd, nil, "S")
	assert.Equal(t, []string{"shop@fastmail.com"}, got)

	// Cached addresses keep the server's casing and match either way.
	got, _ = r.completeAddresses()(cmd, nil, "travel.")
	assert.Equal(t, []string{"Travel.Site@Fastmail.com"}, got)

	got, _ = r.completeAddresses()(cmd, []string{"shop@fastmail.com"}, "")
	assert.Empty(t, got)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "shop@fastmail.com", want: "shop@fastmail.com"},
		{in: "  shop@fastmail.com ", want: "shop@fastmail.com"},
		{in: "Shop <shop@fastmail.com>", want: "shop@fastmail.com"},
		{in: "not-an-address", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "empty", formatCounts(nil))
	assert.Equal(t, "3 enabled, 1 pending, 2 deleted", formatCounts(map[model.MaskedEmailState]int{
		model.StateDeleted: 2,
		model.StateEnabled: 3,
		model.StatePending: 1,
	}))
}

func TestWithHint(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, withHint(plain))

	err := withHint(&app.NotFoundError{Email: "x@fastmail.com"})
	assert.ErrorIs(t, err, app.ErrNotFound)
	assert.True(t, strings.HasSuffix(err.Error(), "tmail masked list --all"))
}

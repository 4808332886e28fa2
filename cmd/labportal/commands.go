package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"labportal/client/internal/accounts"
	"labportal/client/internal/app"
	"labportal/client/internal/apperr"
	"labportal/client/internal/remote"
	"labportal/client/internal/search"
	"labportal/client/internal/session"
)

type command struct {
	run func(ctx context.Context, c *app.Client, args []string, out io.Writer) error
}

var commands = map[string]command{
	"login":    {run: runLogin},
	"logout":   {run: runLogout},
	"register": {run: runRegister},
	"whoami":   {run: runWhoami},
	"profile":  {run: runProfile},
	"feedback": {run: runFeedback},
	"users":    {run: runUsers},
	"route":    {run: runRoute},
	"metrics":  {run: runMetrics},
}

func usage(format string, args ...any) error {
	return apperr.Validation(fmt.Sprintf(format, args...))
}

func subFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runLogin(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	fs := subFlags("login")
	name := fs.String("name", "", "user name")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return usage("login: %v", err)
	}
	state, err := c.Accounts().Login(ctx, *name, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in as %s\n", state.Identity.Name)
	return nil
}

func runLogout(ctx context.Context, c *app.Client, _ []string, out io.Writer) error {
	c.Accounts().Logout(ctx)
	fmt.Fprintln(out, "Signed out")
	return nil
}

func runRegister(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	fs := subFlags("register")
	var r accounts.Registration
	fs.StringVar(&r.Name, "name", "", "user name")
	fs.StringVar(&r.Email, "email", "", "email address")
	fs.StringVar(&r.Password, "password", "", "password, at least 6 characters")
	if err := fs.Parse(args); err != nil {
		return usage("register: %v", err)
	}
	state, err := c.Accounts().Register(ctx, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered and signed in as %s\n", state.Identity.Name)
	return nil
}

func runWhoami(_ context.Context, c *app.Client, _ []string, out io.Writer) error {
	printIdentity(out, c.Session())
	return nil
}

func printIdentity(out io.Writer, state session.State) {
	if !state.LoggedIn {
		fmt.Fprintln(out, "Not signed in")
		return
	}
	id := state.Identity
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", id.ID)
	fmt.Fprintf(tw, "name\t%s\n", id.Name)
	fmt.Fprintf(tw, "email\t%s\n", id.Email)
	fmt.Fprintf(tw, "role\t%s\n", id.Role)
	fmt.Fprintf(tw, "avatar\t%s\n", id.AvatarColor)
	if !id.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "member since\t%s\n", id.CreatedAt.Local().Format("2006-01-02"))
	}
	_ = tw.Flush()
}

func runProfile(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	current := c.Session()
	fs := subFlags("profile")
	var p accounts.ProfileUpdate
	if current.LoggedIn {
		p.Name, p.Email = current.Identity.Name, current.Identity.Email
	}
	fs.StringVar(&p.Name, "name", p.Name, "new name")
	fs.StringVar(&p.Email, "email", p.Email, "new email")
	fs.StringVar(&p.Password, "password", "", "new password; empty keeps the current one")
	if err := fs.Parse(args); err != nil {
		return usage("profile: %v", err)
	}
	state, err := c.Accounts().UpdateProfile(ctx, p)
	if err != nil {
		return err
	}
	printIdentity(out, state)
	return nil
}

func runFeedback(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usage("feedback: expected list, add, rm, or search")
	}
	switch args[0] {
	case "list":
		fs := subFlags("feedback list")
		refresh := fs.Bool("refresh", false, "refetch, superseding any refresh in flight")
		if err := fs.Parse(args[1:]); err != nil {
			return usage("feedback list: %v", err)
		}
		load := c.Feedback().Load
		if *refresh {
			load = c.RefreshFeedback
		}
		entry, err := load(ctx)
		if err != nil {
			return err
		}
		printFeedback(out, entry.Items)
		return nil
	case "add":
		text := strings.Join(args[1:], " ")
		created, err := c.CreateFeedback(ctx, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Posted feedback %s\n", created.ID)
		return nil
	case "rm":
		if len(args) != 2 {
			return usage("feedback rm: expected one id")
		}
		if err := c.RemoveFeedback(ctx, remote.ID(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed feedback %s\n", args[1])
		return nil
	case "search":
		return runSearch(ctx, c, args[1:], out)
	default:
		return usage("feedback: unknown subcommand %q", args[0])
	}
}

func runSearch(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	fs := subFlags("feedback search")
	mine := fs.Bool("mine", false, "only your own feedback")
	limit := fs.Int("limit", 20, "maximum results")
	if err := fs.Parse(args); err != nil {
		return usage("feedback search: %v", err)
	}
	q := search.Query{Text: strings.Join(fs.Args(), " "), Limit: *limit}
	if *mine {
		state := c.Session()
		if !state.LoggedIn {
			return apperr.ErrUnauthorized
		}
		q.UserID = state.Identity.ID
	}
	resp, err := c.SearchFeedback(ctx, q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Date.Local().Format(time.DateTime), r.UserName, r.Snippet)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d match(es) via %s\n", resp.Total, resp.Backend)
	return nil
}

func printFeedback(out io.Writer, items []remote.Feedback) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No feedback yet")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Date.Local().Format(time.DateTime), f.UserName, f.Text)
	}
	_ = tw.Flush()
}

func runUsers(ctx context.Context, c *app.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usage("users: expected list, block, unblock, or rm")
	}
	if args[0] == "list" {
		users, err := c.Admin().ListUsers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tBLOCKED")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", u.ID, u.Name, u.Email, u.Role, u.IsBlocked)
		}
		return tw.Flush()
	}

	if len(args) != 2 {
		return usage("users %s: expected one id", args[0])
	}
	id := remote.ID(args[1])
	switch args[0] {
	case "block", "unblock":
		u, err := c.Admin().SetBlocked(ctx, id, args[0] == "block")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: blocked=%t\n", u.Name, u.IsBlocked)
	case "rm":
		if err := c.Admin().DeleteUser(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted user %s\n", id)
	default:
		return usage("users: unknown subcommand %q", args[0])
	}
	if !c.Session().LoggedIn {
		fmt.Fprintln(out, "Your own account was affected; you have been signed out")
	}
	return nil
}

func runRoute(_ context.Context, c *app.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return usage("route: expected one path")
	}
	d := c.Navigate(args[0])
	switch {
	case d.Allow:
		fmt.Fprintf(out, "%s: allowed\n", d.Path)
	case d.NotFound:
		fmt.Fprintf(out, "%s: not found, redirect to %s\n", d.Path, d.Redirect)
	default:
		fmt.Fprintf(out, "%s: redirect to %s\n", d.Path, d.Redirect)
	}
	return nil
}

func runMetrics(_ context.Context, c *app.Client, _ []string, out io.Writer) error {
	samples, err := c.Metrics().Samples()
	if err != nil {
		return err
	}
	for _, s := range samples {
		if s.Labels == "" {
			fmt.Fprintf(out, "%s %g\n", s.Name, s.Value)
			continue
		}
		fmt.Fprintf(out, "%s{%s} %g\n", s.Name, s.Labels, s.Value)
	}
	return nil
}

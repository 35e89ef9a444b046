package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"campus_notifier/internal/app"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	nowFunc          = time.Now

	errHelp = errors.New("help provided")
)

const loginTimeout = 30 * time.Second

type commandLine struct {
	sessions *app.SessionManager
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  run                       - stream notifications and run the Telegram bot (default)")
	fmt.Fprintln(cli.out, "  login -username USERNAME  - log in; the password is prompted next")
	fmt.Fprintln(cli.out, "  logout                    - forget the stored session token")
	fmt.Fprintln(cli.out, "  status                    - show whether a token is stored and when it expires")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginCmd.SetOutput(cli.out)
	loginUsername := loginCmd.String("username", "", "The college username. The password will be prompted next.")

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if strings.TrimSpace(*loginUsername) == "" {
			loginCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(*loginUsername, string(pwd))
	case "logout":
		cli.sessions.Logout(nil)
		fmt.Fprintln(cli.out, "Logged out.")
		return nil
	case "status":
		return cli.status()
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) login(username, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()
	if err := cli.sessions.Login(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Logged in as %s.\n", username)
	return nil
}

func (cli *commandLine) status() error {
	stored, expiresAt, err := cli.sessions.TokenInfo()
	if err != nil {
		return err
	}
	switch {
	case !stored:
		fmt.Fprintln(cli.out, "Not logged in.")
	case expiresAt.IsZero():
		fmt.Fprintln(cli.out, "Logged in (token has no expiry).")
	case !nowFunc().Before(expiresAt):
		fmt.Fprintf(cli.out, "Token expired %s. Run login again.\n", humanize.RelTime(expiresAt, nowFunc(), "ago", "from now"))
	default:
		fmt.Fprintf(cli.out, "Logged in, token expires %s.\n", humanize.RelTime(expiresAt, nowFunc(), "ago", "from now"))
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/term"

	"filmdoms/cmd/internal/app"
	"filmdoms/cmd/security/password"
)

var errUsage = errors.New("usage: filmdoms [serve|migrate|purge-sessions|hash-password|gen-keys] [flags]")

// Seams for tests.
var (
	serveFn   = app.Serve
	migrateFn = app.Migrate
	purgeFn   = app.PurgeSessions
	isTTY     = func(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }
	readPass  = func(f *os.File) ([]byte, error) { return term.ReadPassword(int(f.Fd())) }
)

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := parseFlags("serve", args, stderr, nil); err != nil {
			return err
		}
		return serveFn(ctx)
	case "migrate":
		if err := parseFlags("migrate", args, stderr, nil); err != nil {
			return err
		}
		return migrateFn(ctx)
	case "purge-sessions":
		var olderThan time.Duration
		err := parseFlags("purge-sessions", args, stderr, func(fs *flag.FlagSet) {
			fs.DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete records that expired at least this long ago")
		})
		if err != nil {
			return err
		}
		n, err := purgeFn(ctx, olderThan)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "purged %d refresh token records\n", n)
		return err
	case "hash-password":
		if err := parseFlags("hash-password", args, stderr, nil); err != nil {
			return err
		}
		return hashPassword(stdin, stdout, stderr)
	case "gen-keys":
		if err := parseFlags("gen-keys", args, stderr, nil); err != nil {
			return err
		}
		return genKeys(stdout)
	case "help", "-h", "--help":
		_, _ = fmt.Fprintln(stdout, errUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func parseFlags(name string, args []string, stderr io.Writer, define func(*flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %q", name, fs.Args())
	}
	return nil
}

// hashPassword reads one password and prints its hash under the configured
// Argon2id parameters. A terminal gets a no-echo prompt; piped input is read
// as a single line.
func hashPassword(stdin io.Reader, stdout, stderr io.Writer) error {
	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := password.FromEnv()
	if err != nil {
		return err
	}

	pw, err := readPassword(stdin, stderr)
	if err != nil {
		return err
	}
	hash, err := cfg.Hash(pw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func readPassword(stdin io.Reader, stderr io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && isTTY(f) {
		_, _ = fmt.Fprint(stderr, "Password: ")
		b, err := readPass(f)
		_, _ = fmt.Fprintln(stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("hash-password: empty password")
	}
	return line, nil
}

func genKeys(stdout io.Writer) error {
	sk := paseto.NewV4AsymmetricSecretKey()
	_, err := fmt.Fprintf(stdout,
		"FILMDOMS_PASETO_V4_SECRET_KEY_HEX=%s\n# public key (for FILMDOMS_PASETO_V4_RETIRED_PUBLIC_KEYS after rotation)\n%s\n",
		sk.ExportHex(), sk.Public().ExportHex())
	return err
}

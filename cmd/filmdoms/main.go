// Command filmdoms runs the auth session server and its maintenance tasks.
//
//	filmdoms serve                        run the HTTP server (default)
//	filmdoms migrate                      apply embedded SQL migrations
//	filmdoms purge-sessions -older-than=720h
//	filmdoms hash-password                print an Argon2id hash
//	filmdoms gen-keys                     print a fresh PASETO v4 key pair
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
)

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "filmdoms:", err)
		os.Exit(1)
	}
}

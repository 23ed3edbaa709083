// freight-token generates signing keys and mints credentials for local
// development and service accounts.
package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const signingKeyEnv = "FREIGHT_SIGNING_KEY"

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now time.Time) error {
	if len(args) == 0 {
		printUsage(out)
		return errors.New("command is required")
	}
	switch args[0] {
	case "keygen":
		return keygen(out)
	case "mint":
		return mint(args[1:], out, now)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func keygen(out io.Writer) error {
	pub, priv, err := auth.GenerateKeypair()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "public_key: %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Fprintf(out, "private_key: %s\n", base64.StdEncoding.EncodeToString(priv))
	return nil
}

func mint(args []string, out io.Writer, now time.Time) error {
	var (
		subject  string
		role     string
		audience string
		key      string
		ttl      time.Duration
	)
	fs := pflag.NewFlagSet("mint", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&subject, "subject", "", "actor id the credential is issued to")
	fs.StringVar(&role, "role", "", "shipper or carrier")
	fs.StringVar(&audience, "audience", "freight", "audience the API verifies")
	fs.StringVar(&key, "key", "", "base64 ed25519 private key (default $"+signingKeyEnv+")")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "credential lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(subject) == "" {
		return errors.New("--subject is required")
	}
	r := models.Role(strings.ToLower(role))
	if !r.Valid() {
		return fmt.Errorf("--role must be shipper or carrier, got %q", role)
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	if key == "" {
		key = os.Getenv(signingKeyEnv)
	}
	if key == "" {
		return fmt.Errorf("--key or $%s is required", signingKeyEnv)
	}
	priv, err := auth.ParsePrivateKey(key)
	if err != nil {
		return err
	}

	tok, err := auth.Mint(priv, subject, r, audience, ttl, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `Usage:
  freight-token keygen
  freight-token mint --subject ID --role shipper|carrier [--ttl 24h] [--audience freight] [--key BASE64]
`)
}

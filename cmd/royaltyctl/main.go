package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"royaltysync/cmd/internal/passphrase"
	"royaltysync/crypto"
)

const (
	defaultAddr     = "http://127.0.0.1:7090"
	tokenEnv        = "ROYALTYD_TOKEN"
	defaultPassEnv  = "ROYALTYD_KEYSTORE_PASSPHRASE"
	importKeyCmd    = "import-key"
	defaultKeyEnv   = "ROYALTYD_SIGNER_KEY"
	defaultKeystore = "signer.keystore"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("royaltyctl", flag.ContinueOnError)
	addr := fs.String("addr", defaultAddr, "royaltyd admin API address")
	timeout := fs.Duration("timeout", 60*time.Second, "request timeout")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(fs.Output())
		return errors.New("command required")
	}

	if rest[0] == importKeyCmd {
		return runImportKey(rest[1:], out)
	}

	client := newClient(*addr, os.Getenv(tokenEnv), &http.Client{Timeout: *timeout})
	ctx := context.Background()
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "status":
		return client.get(ctx, "/v1/state", out)
	case "log":
		return client.get(ctx, "/v1/activity", out)
	case "drafts":
		return client.get(ctx, "/v1/drafts", out)
	case "refresh":
		return client.post(ctx, "/v1/refresh", nil, out)
	case "connect":
		return client.post(ctx, "/v1/session/connect", nil, out)
	case "disconnect":
		return client.post(ctx, "/v1/session/disconnect", nil, out)
	case "draft":
		if len(cmdArgs) != 2 {
			return errors.New("usage: draft <action.param> <value>")
		}
		return client.put(ctx, "/v1/drafts/"+cmdArgs[0], map[string]string{"value": cmdArgs[1]}, out)
	case "action":
		if len(cmdArgs) == 0 {
			return errors.New("usage: action <name> [key=value...]")
		}
		params, err := parseParams(cmdArgs[1:])
		if err != nil {
			return err
		}
		return client.post(ctx, "/v1/actions/"+cmdArgs[0], params, out)
	default:
		usage(fs.Output())
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseParams turns key=value arguments into action parameters.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("parameter %s given twice", key)
		}
		params[key] = value
	}
	return params, nil
}

func runImportKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(importKeyCmd, flag.ContinueOnError)
	keyEnv := fs.String("key-env", defaultKeyEnv, "Environment variable containing the hex signer key")
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := strings.TrimSpace(os.Getenv(*keyEnv))
	if raw == "" {
		return fmt.Errorf("environment variable %s is not set", *keyEnv)
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	key, err := crypto.PrivateKeyFromHex(raw)
	if err != nil {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv).Get()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintf(out, "Wrote keystore for %s to %s\n", key.Address().Hex(), *keystorePath)
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "royaltyctl [-addr url] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  status                      Show the session view")
	fmt.Fprintln(w, "  log                         Show the activity log")
	fmt.Fprintln(w, "  refresh                     Run a manual refresh cycle")
	fmt.Fprintln(w, "  connect                     Open a session")
	fmt.Fprintln(w, "  disconnect                  Close the session")
	fmt.Fprintln(w, "  drafts                      List draft inputs")
	fmt.Fprintln(w, "  draft <field> <value>       Set a draft input, e.g. buy.amount 10")
	fmt.Fprintln(w, "  action <name> [key=value]   Submit a write, e.g. action transfer to=0x.. amount=5")
	fmt.Fprintf(w, "  %s                  Encrypt a hex signer key into a keystore\n", importKeyCmd)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "The admin bearer token is read from %s.\n", tokenEnv)
}

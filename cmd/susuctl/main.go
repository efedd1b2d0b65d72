package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"sorosusu/cmd/internal/passphrase"
	"sorosusu/config"
	"sorosusu/crypto"
	"sorosusu/gateway/middleware"
)

const (
	defaultPassEnv  = "SUSU_KEYSTORE_PASS"
	defaultConfig   = "./susud.toml"
	defaultKeystore = "susu.keystore"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: susuctl <command> [flags]

commands:
  keygen       generate a key into a keystore file
  address      print the address held in a keystore
  token        mint a bearer token for the keystore identity
  sign         print a Signature authorization header for one request
  init-config  write a default susud configuration`)
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], out)
	case "address":
		return runAddress(args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "sign":
		return runSign(args[1:], out)
	case "init-config":
		return runInitConfig(args[1:], out)
	default:
		return errUsage
	}
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	light := fs.Bool("light", false, "Use the light scrypt cost (development only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewConfirmedSource(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(*keystorePath, key, pass, params); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintf(out, "%s\n", key.PubKey().Address())
	return nil
}

func loadKey(fs *flag.FlagSet, args []string) (*crypto.PrivateKey, error) {
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	pass, err := passphrase.NewSource(*passEnv).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(*keystorePath, pass)
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.KeystoreAddress(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n0x%s\n", addr, hex.EncodeToString(addr.Bytes()))
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the susud config file")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	key, err := loadKey(fs, args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return errors.New("config has no Auth.HMACSecret; set it or its HMACSecretEnv variable")
	}
	token, err := middleware.IssueToken([]byte(strings.TrimSpace(cfg.Auth.HMACSecret)), key.PubKey().Address(), cfg.Auth.Issuer, cfg.Auth.Audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	method := fs.String("method", "POST", "HTTP method of the request")
	path := fs.String("path", "", "Request path, e.g. /v1/circles/1/join")
	key, err := loadKey(fs, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return errors.New("--path is required")
	}
	ts := time.Now().Unix()
	sig, err := crypto.Sign(key, middleware.SignaturePayload(*method, *path, ts))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Authorization: Signature %s:%s:%s\n", key.PubKey().Address(), strconv.FormatInt(ts, 10), hex.EncodeToString(sig))
	return nil
}

func runInitConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	path := fs.String("out", defaultConfig, "Destination path")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", *path)
		}
	}
	if err := config.Persist(*path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *path)
	return nil
}

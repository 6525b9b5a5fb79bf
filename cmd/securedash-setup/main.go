// Command securedash-setup creates the initial credential store and prints
// password hashes for hand-edited accounts.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/setup"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  securedash-setup init [-config path] [-force] [-cost n]
  securedash-setup hash [-cost n] password...
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "hash":
		err = runHash(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "securedash-setup: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", credstore.DefaultPath(), "credential store to create")
	force := fs.Bool("force", false, "overwrite an existing store")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(args)

	store := credstore.NewStore(*path)
	wrote, err := setup.Init(store, auth.NewBcryptHasher(*cost), *force)
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Printf("%s already exists; use -force to replace it\n", *path)
		return nil
	}
	fmt.Printf("Created %s with users:\n", *path)
	for _, a := range setup.DemoAccounts {
		fmt.Printf("  %-8s %s <%s>\n", a.Username, a.Name, a.Email)
	}
	return nil
}

func runHash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("hash: no passwords given")
	}
	h := auth.NewBcryptHasher(*cost)
	for _, pw := range fs.Args() {
		hash, err := h.Hash(pw)
		if err != nil {
			return err
		}
		fmt.Println(hash)
	}
	return nil
}

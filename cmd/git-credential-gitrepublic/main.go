// Command git-credential-gitrepublic is the git credential helper of
// spec.md §4.9: it answers git's `get` requests with a NIP-98-signed
// password and no-ops on `store`/`erase`.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/nostr-git/gitrepublic/credential"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: git-credential-gitrepublic <get|store|erase>")
		os.Exit(1)
	}

	h := &credential.Helper{
		Lookup:              os.LookupEnv,
		RemoteConfiguredURL: remoteConfiguredURL,
	}

	if err := h.Run(os.Args[1], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "git-credential-gitrepublic: %v\n", err)
		os.Exit(1)
	}
}

func remoteConfiguredURL() (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

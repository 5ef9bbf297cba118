package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/runnerr0/procedura/internal/protocol"
)

// passwordEnv lets scripts sign in without a prompt.
const passwordEnv = "PROCEDURA_PASSWORD"

// Execute implements the go-flags Commander interface for LoginCommand.
func (c *LoginCommand) Execute(args []string) error {
	email := c.Email
	if email == "" {
		email = loadConfig(c.globals).Remote.Email
	}
	if email == "" {
		return fmt.Errorf("--email is required (or set remote.email in the config)")
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no password received")
		}
		password = strings.TrimSpace(scanner.Text())
	}

	svc, closeFn, err := serviceFor(c.service, c.globals)
	if err != nil {
		return err
	}
	defer closeFn()
	return c.signIn(context.Background(), svc, email, password)
}

func (c *LoginCommand) signIn(ctx context.Context, svc requester, email, password string) error {
	resp, err := call(ctx, svc, protocol.Request{
		Type:    protocol.SignIn,
		Payload: &protocol.Payload{Email: email, Password: password},
	})
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(resp.Data)
	}
	userID, _ := resp.String("userId")
	fmt.Printf("Signed in as %s (%s)\n", email, userID)
	return nil
}

// Execute implements the go-flags Commander interface for LogoutCommand.
func (c *LogoutCommand) Execute(args []string) error {
	svc, closeFn, err := serviceFor(c.service, c.globals)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := call(context.Background(), svc, protocol.Request{Type: protocol.SignOut}); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	fmt.Println("Signed out.")
	return nil
}

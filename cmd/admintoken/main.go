// Command admintoken prints a bearer token for the pool admin routes, signed with
// ADMIN_JWT_SECRET from the environment.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tomzdev/spotify-migration-tool/internal/config"
	"github.com/tomzdev/spotify-migration-tool/token/jwt"
)

func main() {
	subject := flag.String("sub", "operator", "operator name recorded in the token")
	ttl := flag.Duration("ttl", jwt.DefaultTTL, "token lifetime")
	flag.Parse()

	if err := run(*subject, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(subject string, ttl time.Duration) error {
	c, err := config.New()
	if err != nil {
		return fmt.Errorf("config.New: %w", err)
	}
	creator, err := jwt.NewCreator(c.GetAdminJWTSecret(), c.GetAppName(), ttl)
	if err != nil {
		return fmt.Errorf("ADMIN_JWT_SECRET must be set: %w", err)
	}
	token, err := creator.CreateAdminToken(subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

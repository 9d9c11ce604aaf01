package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/layer-3/sessionkit"
	"github.com/layer-3/sessionkit/config"
)

const usage = `usage: sessionctl [-config path] <command> [args]

commands:
  login -u user -p password [-remember]   authenticate and store the session
  status                                   show the stored session and permissions
  get <path>                               GET an API path with the session attached
  logout                                   end the session
`

func main() {
	configPath := flag.String("config", "", "path to the YAML config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client, err := sessionkit.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := client.Restore(ctx); err != nil {
		log.Printf("Could not restore session: %v", err)
	}

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, client *sessionkit.Client, command string, args []string) error {
	switch command {
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		username := fs.String("u", "", "username")
		password := fs.String("p", "", "password")
		remember := fs.Bool("remember", false, "keep the session across restarts")
		_ = fs.Parse(args)

		if err := client.Login(ctx, *username, *password, *remember); err != nil {
			return err
		}
		return status(client)

	case "status":
		return status(client)

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get needs exactly one path")
		}
		body, err := sessionkit.Fetch[json.RawMessage](ctx, client, http.MethodGet, args[0], nil)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil

	case "logout":
		return client.Logout(ctx)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func status(client *sessionkit.Client) error {
	s := client.Snapshot()
	if !s.IsAuthenticated {
		fmt.Printf("not authenticated")
		if s.LastError != "" {
			fmt.Printf(" (last error: %s)", s.LastError)
		}
		fmt.Println()
		return nil
	}

	fmt.Printf("authenticated as %s (%s), role %s, remembered: %t\n",
		s.Principal.Username, s.Principal.ID, s.Principal.Role, s.Remember)
	for _, p := range client.Permissions() {
		fmt.Printf("  %-22s %t\n", p, client.HasPermission(p))
	}
	return nil
}

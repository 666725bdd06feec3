package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `Usage: afrochain-cli [--api URL] [--token JWT] <command> [args]

Commands:
  health
  pay      --network ethereum|hedera --to ADDR --amount N [--private-key HEX]
  balance  NETWORK ADDRESS
  tx       NETWORK REF
  escrow   deploy|get|release|refund|dispute
  cert     mint|verify
  supply   append|history

Environment:
  AFRO_API_URL    gateway base URL (default http://127.0.0.1:8080)
  AFRO_API_TOKEN  bearer token sent with every request`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	client := newAPIClient(defaultEndpoint(), os.Getenv("AFRO_API_TOKEN"))
	args, err := applyGlobalFlags(client, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 1
	}
	cmd := &command{client: client, stdout: stdout, stderr: stderr}
	switch args[0] {
	case "health":
		return cmd.call("GET", "/healthz", nil, "")
	case "pay":
		return cmd.pay(args[1:])
	case "balance":
		if len(args) != 3 {
			return cmd.fail("balance requires NETWORK and ADDRESS")
		}
		return cmd.call("GET", "/v1/balances/"+args[1]+"/"+args[2], nil, "")
	case "tx":
		if len(args) != 3 {
			return cmd.fail("tx requires NETWORK and REF")
		}
		return cmd.call("GET", "/v1/tx/"+args[1]+"/"+args[2], nil, "")
	case "escrow":
		return cmd.escrow(args[1:])
	case "cert":
		return cmd.cert(args[1:])
	case "supply":
		return cmd.supply(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage)
		return 1
	}
}

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("AFRO_API_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// applyGlobalFlags consumes --api and --token ahead of the command name.
func applyGlobalFlags(client *apiClient, args []string) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		var name, value string
		switch {
		case strings.HasPrefix(arg, "--api="), strings.HasPrefix(arg, "--token="):
			parts := strings.SplitN(arg, "=", 2)
			name, value = parts[0], parts[1]
			args = args[1:]
		case arg == "--api" || arg == "--token":
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			name, value = arg, args[1]
			args = args[2:]
		default:
			return args, nil
		}
		switch name {
		case "--api":
			client.endpoint = strings.TrimRight(strings.TrimSpace(value), "/")
		case "--token":
			client.token = strings.TrimSpace(value)
		}
	}
	return args, nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	sdk "github.com/cordum/devserver/sdk/client"
)

const defaultBridge = "http://127.0.0.1:8181"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "server":
		runServerCmd(args)
	case "asset":
		runAssetCmd(args)
	case "dev":
		runDevCmd(args)
	case "cleartext":
		runCleartextCmd(args)
	case "scheme":
		runSchemeCmd(args)
	case "options":
		fs := newFlagSet("options")
		fs.ParseArgs(args)
		opts, err := newClient(*fs.bridge, *fs.apiKey).GetOptions(context.Background())
		check(err)
		printJSON(opts)
	case "health":
		fs := newFlagSet("health")
		fs.ParseArgs(args)
		check(newClient(*fs.bridge, *fs.apiKey).Health(context.Background()))
		fmt.Println("ok")
	case "events":
		runEventsCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

func runServerCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "set":
		fs := newFlagSet("server set")
		persist := fs.Bool("persist", false, "keep the url across launches")
		restart := fs.Bool("restart", false, "reload the host after switching")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("url required")
		}
		client := newClient(*fs.bridge, *fs.apiKey)
		srv, err := client.SetServer(context.Background(), fs.Arg(0), *persist, *restart)
		check(err)
		printJSON(srv)
	case "get":
		fs := newFlagSet("server get")
		fs.ParseArgs(args[1:])
		srv, err := newClient(*fs.bridge, *fs.apiKey).GetServer(context.Background())
		check(err)
		printJSON(srv)
	case "clear":
		fs := newFlagSet("server clear")
		restart := fs.Bool("restart", false, "reload the host after clearing")
		fs.ParseArgs(args[1:])
		check(newClient(*fs.bridge, *fs.apiKey).ClearServer(context.Background(), *restart))
	case "apply":
		fs := newFlagSet("server apply")
		fs.ParseArgs(args[1:])
		srv, err := newClient(*fs.bridge, *fs.apiKey).ApplyServer(context.Background())
		check(err)
		printJSON(srv)
	default:
		usage()
		os.Exit(1)
	}
}

func runAssetCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "download":
		fs := newFlagSet("asset download")
		overwrite := fs.Bool("overwrite", false, "replace an existing bundle")
		checksum := fs.String("checksum", "", "expected sha256 of the archive")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("archive url required")
		}
		client := newClient(*fs.bridge, *fs.apiKey)
		check(client.DownloadAsset(context.Background(), sdk.DownloadRequest{
			URL:       fs.Arg(0),
			Overwrite: *overwrite,
			Checksum:  *checksum,
		}))
	case "list":
		fs := newFlagSet("asset list")
		fs.ParseArgs(args[1:])
		names, err := newClient(*fs.bridge, *fs.apiKey).GetAssetList(context.Background())
		check(err)
		for _, name := range names {
			fmt.Println(name)
		}
	case "apply":
		fs := newFlagSet("asset apply")
		persist := fs.Bool("persist", false, "keep the bundle across launches")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("asset name required")
		}
		check(newClient(*fs.bridge, *fs.apiKey).ApplyAsset(context.Background(), fs.Arg(0), *persist))
	case "info":
		fs := newFlagSet("asset info")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("asset name required")
		}
		info, err := newClient(*fs.bridge, *fs.apiKey).GetAssetInfo(context.Background(), fs.Arg(0))
		check(err)
		printJSON(info)
	case "remove":
		fs := newFlagSet("asset remove")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("asset name required")
		}
		check(newClient(*fs.bridge, *fs.apiKey).RemoveAsset(context.Background(), fs.Arg(0)))
	case "restore":
		fs := newFlagSet("asset restore")
		fs.ParseArgs(args[1:])
		check(newClient(*fs.bridge, *fs.apiKey).RestoreDefaultAsset(context.Background()))
	default:
		usage()
		os.Exit(1)
	}
}

func runDevCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("dev " + args[0])
	fs.ParseArgs(args[1:])
	client := newClient(*fs.bridge, *fs.apiKey)
	switch args[0] {
	case "on", "off":
		check(client.SetDevMode(context.Background(), args[0] == "on"))
	case "status":
		enabled, err := client.DevModeEnabled(context.Background())
		check(err)
		fmt.Println(enabled)
	default:
		usage()
		os.Exit(1)
	}
}

func runCleartextCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("cleartext " + args[0])
	fs.ParseArgs(args[1:])
	client := newClient(*fs.bridge, *fs.apiKey)
	switch args[0] {
	case "on", "off":
		check(client.SetCleartext(context.Background(), args[0] == "on"))
	case "status":
		allow, err := client.Cleartext(context.Background())
		check(err)
		fmt.Println(allow)
	default:
		usage()
		os.Exit(1)
	}
}

func runSchemeCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("scheme " + args[0])
	fs.ParseArgs(args[1:])
	client := newClient(*fs.bridge, *fs.apiKey)
	switch args[0] {
	case "set":
		if fs.NArg() < 1 {
			fail("scheme required")
		}
		check(client.SetAndroidScheme(context.Background(), fs.Arg(0)))
	case "get":
		scheme, err := client.AndroidScheme(context.Background())
		check(err)
		fmt.Println(scheme)
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	bridge *string
	apiKey *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	bridge := fs.String("bridge", envOr("DEVSERVER_BRIDGE", defaultBridge), "bridge base url")
	apiKey := fs.String("api-key", envOr("DEVSERVER_API_KEY", ""), "api key")
	return &flagSet{FlagSet: fs, bridge: bridge, apiKey: apiKey}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func newClient(bridge, apiKey string) *sdk.Client {
	return sdk.New(strings.TrimRight(bridge, "/"), apiKey)
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`devserverctl - devserver bridge CLI

Usage:
  devserverctl server set <url> [--persist] [--restart]
  devserverctl server get
  devserverctl server clear [--restart]
  devserverctl server apply
  devserverctl asset download <url> [--overwrite] [--checksum sha256]
  devserverctl asset list
  devserverctl asset apply <name> [--persist]
  devserverctl asset info <name>
  devserverctl asset remove <name>
  devserverctl asset restore
  devserverctl dev on|off|status
  devserverctl cleartext on|off|status
  devserverctl scheme set <scheme> | scheme get
  devserverctl options
  devserverctl health
  devserverctl events [--nats nats://host:4222] [--subject devserver.events]

Global flags:
  --bridge    Bridge base URL (default from DEVSERVER_BRIDGE)
  --api-key   API key (default from DEVSERVER_API_KEY)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

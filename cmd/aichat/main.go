package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		if err := runChat(nil); err != nil {
			exitErr("chat", err)
		}
		return
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	case "chat":
		err = runChat(args)
	case "send":
		err = runSend(args)
	case "conversations", "conv":
		err = runConversations(args)
	case "providers":
		err = runProviders(args)
	case "export":
		err = runExport(args)
	case "import":
		err = runImport(args)
	case "stats":
		err = runStats(args)
	case "clear":
		err = runClear(args)
	case "doctor":
		err = runDoctor(args)
	default:
		if strings.HasPrefix(cmd, "-") {
			err = runChat(os.Args[1:])
			break
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'aichat --help' for usage information.\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		exitErr(cmd, err)
	}
}

func exitErr(cmd string, err error) {
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, humanize(err))
	os.Exit(exitCode(err))
}

func showUsage() {
	fmt.Println(`aichat - chat with LLM providers from the terminal

USAGE:
    aichat [COMMAND] [FLAGS]

COMMANDS:
    chat                       Interactive chat (default)
    send <text>                Send one message and print the reply
    conversations              Manage conversations
                               Subcommands: list, show, rename, delete
    providers                  Manage providers
                               Subcommands: list, add, remove, select
    export [-o FILE]           Write a JSON backup of all conversations
    import <file>              Restore a JSON backup
    stats                      Show storage usage
    clear [-yes]               Delete all conversations and messages
    doctor                     Check config, keys, storage and connectivity

FLAGS:
    -h, --help         Show this help message
    -config PATH       Config file path (default: $AICHAT_CONFIG or ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: AICHAT_* variables override config,
                 AICHAT_PROVIDER_<ID>_API_KEY sets a provider key`)
}

// newFlagSet returns a flag set with the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("aichat "+name, flag.ContinueOnError)
	path := fs.String("config", "", "config file path")
	return fs, path
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("AICHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

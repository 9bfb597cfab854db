package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// isTTY is checked once so a piped or redirected stdout never gets raw
// ANSI escapes in its output, mirroring the pack's term.IsTerminal guard
// around terminal-only output (internal/tui's status bar).
var isTTY = term.IsTerminal(int(os.Stdout.Fd()))

func colorize(code, msg string) string {
	if !isTTY {
		return msg
	}
	return code + msg + "\033[0m"
}

func printHeader(title string) {
	fmt.Println(colorize("\033[1m\033[0;36m", "== "+title+" =="))
}

func printStep(msg string) {
	fmt.Println(colorize("\033[0;36m", ">>> "+msg))
}

func printInfo(msg string) {
	fmt.Println(colorize("\033[0;34m", "[info] "+msg))
}

func printWarn(msg string) {
	fmt.Fprintln(os.Stderr, colorize("\033[1;33m", "[warn] "+msg))
}

func printError(msg string) {
	fmt.Fprintln(os.Stderr, colorize("\033[0;31m", "[error] "+msg))
}

func printHelp() {
	fmt.Println("gatewayd - reverse proxy for Azure OpenAI / OpenAI-shaped inference APIs")
	fmt.Println()
	fmt.Println("Usage: gatewayd [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config FILE     Gateway config file (default: gateway.yaml)")
	fmt.Println("      --validate-config Load and build the config, print the resolved")
	fmt.Println("                        pipeline tree, then exit without serving")
	fmt.Println("  -d, --debug           Enable debug logging")
	fmt.Println("  -h, --help            Show this help")
}

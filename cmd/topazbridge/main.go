package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "process":
		process(os.Args[2:])
	case "args":
		printArgs(os.Args[2:])
	case "extract":
		extract(os.Args[2:])
	case "probe":
		probe(os.Args[2:])
	case "serve":
		serve(os.Args[2:])
	case "defaults":
		defaults(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  topazbridge process [--config <run.yaml>] [--env-file <.env>] [--out <dir>] [--events <file|->] <image>...")
	fmt.Fprintln(os.Stderr, "  topazbridge args [--config <run.yaml>] [--env-file <.env>] <image>")
	fmt.Fprintln(os.Stderr, "  topazbridge extract [<stdout.log>]")
	fmt.Fprintln(os.Stderr, "  topazbridge probe [--config <run.yaml>] [--env-file <.env>] [--clean-cache]")
	fmt.Fprintln(os.Stderr, "  topazbridge serve [--config <run.yaml>] [--env-file <.env>] [--addr <host:port>] [--events <file|->]")
	fmt.Fprintln(os.Stderr, "  topazbridge defaults")
}

// commonFlags are accepted by every subcommand that loads configuration.
type commonFlags struct {
	configPath string
	envFile    string
	events     string
}

// parse consumes args[i] (and its value) when it is a common flag.
func (c *commonFlags) parse(args []string, i int) (int, bool) {
	value := func() string {
		if i+1 >= len(args) {
			fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
			os.Exit(1)
		}
		return args[i+1]
	}
	switch args[i] {
	case "--config":
		c.configPath = value()
	case "--env-file":
		c.envFile = value()
	case "--events":
		c.events = value()
	default:
		return i, false
	}
	return i + 1, true
}

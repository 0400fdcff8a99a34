package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danshapiro/topazbridge/internal/enhancer/report"
)

func extract(args []string) {
	in := io.Reader(os.Stdin)
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		exitOnErr(err)
		defer f.Close()
		in = f
	default:
		usage()
		os.Exit(1)
	}
	os.Exit(runExtract(in, os.Stdout, os.Stderr))
}

// runExtract prints the settings report found in captured tpai stdout.
// It returns 1 when no report could be recovered.
func runExtract(in io.Reader, stdout, stderr io.Writer) int {
	b, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	rep := report.Extract(string(b))
	fmt.Fprintf(stdout, "User settings:\n%s\n\nAutopilot settings:\n%s\n", rep.UserText(), rep.AutopilotText())
	if rep.Warning != nil {
		fmt.Fprintf(stderr, "WARNING: %s\n", rep.Warning)
		return 1
	}
	return 0
}

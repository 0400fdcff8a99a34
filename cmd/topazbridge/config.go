package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
)

func loadConfig(c commonFlags) (*engine.RunConfigFile, error) {
	env, err := engine.LoadEnv(c.envFile)
	if err != nil {
		return nil, err
	}
	return engine.LoadRunConfig(c.configPath, env)
}

// openEvents returns the observer selected by --events: "-" is stderr, any
// other value is a file that is appended to.
func openEvents(dest string) (engine.Observer, io.Closer, error) {
	switch dest {
	case "":
		return nil, nopCloser{}, nil
	case "-":
		return engine.NewNDJSONObserver(os.Stderr), nopCloser{}, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return engine.NewNDJSONObserver(f), f, nil
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

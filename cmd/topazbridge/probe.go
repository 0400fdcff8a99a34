package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
	"github.com/danshapiro/topazbridge/internal/server"
)

func probe(args []string) {
	var c commonFlags
	cleanCache := false
	for i := 0; i < len(args); i++ {
		if j, ok := c.parse(args, i); ok {
			i = j
			continue
		}
		switch args[i] {
		case "--clean-cache":
			cleanCache = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	cfg, err := loadConfig(c)
	exitOnErr(err)
	obs, closer, err := openEvents(c.events)
	exitOnErr(err)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	d, err := engine.New(cfg.Options(), obs).TestAndClean(ctx, cleanCache)
	exitOnErr(err)
	b, err := json.MarshalIndent(d, "", "  ")
	exitOnErr(err)
	fmt.Println(string(b))
	for _, w := range d.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	if !d.Success {
		closer.Close()
		os.Exit(1)
	}
}

func serve(args []string) {
	var c commonFlags
	addr := "127.0.0.1:8787"
	for i := 0; i < len(args); i++ {
		if j, ok := c.parse(args, i); ok {
			i = j
			continue
		}
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	cfg, err := loadConfig(c)
	exitOnErr(err)
	obs, closer, err := openEvents(c.events)
	exitOnErr(err)
	defer closer.Close()

	srv := server.New(server.Config{
		Addr:     addr,
		Engine:   cfg.Options(),
		Observer: obs,
	})
	exitOnErr(srv.ListenAndServe())
}

func defaults(args []string) {
	if len(args) != 0 {
		usage()
		os.Exit(1)
	}
	text, err := engine.EncodeDefaults()
	exitOnErr(err)
	fmt.Print("version: 1\n" + text)
}

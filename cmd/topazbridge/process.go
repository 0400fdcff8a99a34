package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
	"github.com/danshapiro/topazbridge/internal/enhancer/imagebridge"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

func process(args []string) {
	var c commonFlags
	outDir := "."
	var inputs []string

	for i := 0; i < len(args); i++ {
		if j, ok := c.parse(args, i); ok {
			i = j
			continue
		}
		switch args[i] {
		case "--out":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--out requires a value")
				os.Exit(1)
			}
			outDir = args[i]
		default:
			if strings.HasPrefix(args[i], "--") {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			inputs = append(inputs, args[i])
		}
	}
	if len(inputs) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(c)
	exitOnErr(err)
	set, err := cfg.Settings()
	exitOnErr(err)

	images := make([]image.Image, 0, len(inputs))
	for _, p := range inputs {
		img, _, err := imagebridge.Read(p)
		exitOnErr(err)
		images = append(images, img)
	}

	obs, closer, err := openEvents(c.events)
	exitOnErr(err)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	res, err := engine.New(cfg.Options(), obs).Process(ctx, images, set)
	stop()
	if err != nil {
		reportFailure(err)
		closer.Close()
		os.Exit(1)
	}

	exitOnErr(os.MkdirAll(outDir, 0o755))
	fmt.Printf("run_id=%s\n", res.RunID)
	names := outputNames(inputs)
	for i, img := range res.Images {
		imgPath := filepath.Join(outDir, names[i]+".png")
		exitOnErr(imagebridge.WritePNG(imgPath, img))
		txtPath := filepath.Join(outDir, names[i]+".settings.txt")
		body := "User settings:\n" + res.UserSettings[i] + "\n\nAutopilot settings:\n" + res.AutopilotSettings[i] + "\n"
		exitOnErr(os.WriteFile(txtPath, []byte(body), 0o644))
		fmt.Printf("output[%d]=%s\n", i, imgPath)
		fmt.Printf("settings[%d]=%s\n", i, txtPath)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
}

// outputNames derives "<stem>_tpai" for each input, suffixing duplicates.
func outputNames(inputs []string) []string {
	seen := map[string]int{}
	out := make([]string, len(inputs))
	for i, p := range inputs {
		stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)) + "_tpai"
		seen[stem]++
		if n := seen[stem]; n > 1 {
			stem += "_" + strconv.Itoa(n)
		}
		out[i] = stem
	}
	return out
}

func reportFailure(err error) {
	fmt.Fprintln(os.Stderr, err)
	var ie *engine.ImageError
	if errors.As(err, &ie) {
		if s := strings.TrimSpace(ie.Stderr); s != "" {
			fmt.Fprintf(os.Stderr, "tpai stderr:\n%s\n", s)
		}
	}
	var pe *tpai.ProcessExecutionError
	if errors.As(err, &pe) && pe.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", pe.Hint)
	}
}

func printArgs(args []string) {
	var c commonFlags
	var input string
	for i := 0; i < len(args); i++ {
		if j, ok := c.parse(args, i); ok {
			i = j
			continue
		}
		if strings.HasPrefix(args[i], "--") || input != "" {
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
		input = args[i]
	}
	if input == "" {
		usage()
		os.Exit(1)
	}
	cfg, err := loadConfig(c)
	exitOnErr(err)
	set, err := cfg.Settings()
	exitOnErr(err)
	abs, err := filepath.Abs(input)
	exitOnErr(err)
	inv, err := engine.New(cfg.Options(), nil).Args(set, abs)
	exitOnErr(err)
	fmt.Println(inv.String())
}

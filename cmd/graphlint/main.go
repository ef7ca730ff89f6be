// Package main is graphlint, an offline integrity check for tour scene lists.
//
// It reads scenes as JSON, either a bare array or an object with a "scenes"
// field such as the /admin/graph export, and reports integrity warnings, the
// entry scene and the sequential path. The exit status is 1 when warnings
// exist and 2 on usage or input errors.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/panotour/internal/scene"
)

const (
	exitOK       = 0
	exitWarnings = 1
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("graphlint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "text", "output format: text, json or cbor")
	publishedOnly := fs.Bool("published", false, "check only published scenes, as viewers see them")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: graphlint [options] [scenes.json]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Reads stdin when no file is given.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return exitUsage
	}

	in := stdin
	name := "stdin"
	if fs.NArg() == 1 && fs.Arg(0) != "-" {
		name = fs.Arg(0)
		f, err := os.Open(name)
		if err != nil {
			fmt.Fprintf(stderr, "graphlint: %v\n", err)
			return exitUsage
		}
		defer f.Close()
		in = f
	}

	scenes, err := readScenes(in)
	if err != nil {
		fmt.Fprintf(stderr, "graphlint: %s: %v\n", name, err)
		return exitUsage
	}
	if *publishedOnly {
		scenes = published(scenes)
	}

	g, _ := scene.BuildGraph(scenes)
	export := g.Export()

	switch strings.ToLower(*format) {
	case "text":
		writeText(stdout, export)
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export); err != nil {
			fmt.Fprintf(stderr, "graphlint: %v\n", err)
			return exitUsage
		}
	case "cbor":
		data, err := cbor.Marshal(export)
		if err != nil {
			fmt.Fprintf(stderr, "graphlint: %v\n", err)
			return exitUsage
		}
		_, _ = stdout.Write(data)
	default:
		fmt.Fprintf(stderr, "graphlint: unknown format %q\n", *format)
		return exitUsage
	}

	if len(export.Warnings) > 0 {
		return exitWarnings
	}
	return exitOK
}

// readScenes accepts a JSON array of scenes or an object with a scenes field.
func readScenes(r io.Reader) ([]scene.Scene, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	var scenes []scene.Scene
	if data[0] == '[' {
		if err := json.Unmarshal(data, &scenes); err != nil {
			return nil, fmt.Errorf("invalid scene list: %w", err)
		}
		return scenes, nil
	}
	var doc struct {
		Scenes *[]scene.Scene `json:"scenes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid scene document: %w", err)
	}
	if doc.Scenes == nil {
		return nil, errors.New(`expected a JSON array or an object with a "scenes" field`)
	}
	return *doc.Scenes, nil
}

func published(list []scene.Scene) []scene.Scene {
	out := list[:0:0]
	for _, s := range list {
		if s.Published {
			out = append(out, s)
		}
	}
	return out
}

func writeText(w io.Writer, e scene.Export) {
	fmt.Fprintf(w, "scenes: %d\n", len(e.Scenes))
	if e.EntrySceneID == "" {
		fmt.Fprintln(w, "entry: (none)")
	} else {
		fmt.Fprintf(w, "entry: %s\n", e.EntrySceneID)
	}
	path := strings.Join(e.Path, " -> ")
	if e.Cyclic {
		path += " -> (cycle)"
	}
	fmt.Fprintf(w, "path: %s\n", path)

	if len(e.Warnings) == 0 {
		fmt.Fprintln(w, "warnings: none")
		return
	}
	fmt.Fprintf(w, "warnings: %d\n", len(e.Warnings))
	for _, warn := range e.Warnings {
		fmt.Fprintf(w, "  %s\n", warn)
	}
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

// Command khepri-replay is a minimal stand-in host: it reads a
// newline-delimited JSON command log from stdin (or a file), replays it
// against a fresh Machine, and prints the final tree as a debug dump
// (spec.md §2: "the host embeds the state machine and supplies the command
// stream").
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kvtree/khepri"
	"github.com/kvtree/khepri/internal/slogpretty"
	"github.com/kvtree/khepri/treedebug"
)

// logLine is one newline-delimited JSON record. Path components are always
// atoms; binary ids are out of scope for this CLI.
type logLine struct {
	Op        string   `json:"op"`
	Path      []string `json:"path"`
	Payload   *string  `json:"payload,omitempty"`
	KeepWhile []struct {
		Watched []string `json:"watched"`
		GT      *uint64  `json:"child_list_count_gt,omitempty"`
	} `json:"keep_while,omitempty"`
}

func main() {
	var input string
	flag.StringVar(&input, "in", "-", "command log file, or - for stdin")
	flag.Parse()

	if err := run(input, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "khepri-replay:", err)
		os.Exit(1)
	}
}

func run(input string, out io.Writer) error {
	r := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	m := khepri.New(khepri.WithLogger(slogpretty.DefaultHandler))
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ll logLine
		if err := json.Unmarshal(line, &ll); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := apply(m, ll); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprint(out, treedebug.Dump(m.View().Root()))
	return nil
}

func apply(m *khepri.Machine, ll logLine) error {
	pattern := toPattern(ll.Path)
	switch ll.Op {
	case "put":
		var payload []byte
		if ll.Payload != nil {
			payload = []byte(*ll.Payload)
		}
		cmd := khepri.PutCommand{Pattern: pattern, Payload: payload}
		for _, kw := range ll.KeepWhile {
			if kw.GT == nil {
				continue
			}
			cmd.KeepWhile = append(cmd.KeepWhile, khepri.KeepWhileCond{
				Watched: toPath(kw.Watched),
				Pred:    khepri.IfChildListCount{Op: khepri.OpGt, N: *kw.GT},
			})
		}
		_, err := m.Apply(cmd)
		return err
	case "delete":
		_, err := m.Apply(khepri.DeleteCommand{Pattern: pattern})
		return err
	case "get":
		reply, err := m.Apply(khepri.GetCommand{Pattern: pattern})
		if err != nil {
			return err
		}
		for path, proj := range reply.Results.Entries() {
			slog.Info("get", "path", path.String(), "payload_version", proj.PayloadVersion)
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", ll.Op)
	}
}

func toPath(names []string) khepri.Path {
	p := make(khepri.Path, len(names))
	for i, n := range names {
		p[i] = khepri.Atom(n)
	}
	return p
}

func toPattern(names []string) khepri.Pattern {
	pat := make(khepri.Pattern, len(names))
	for i, n := range names {
		pat[i] = khepri.Lit(khepri.Atom(n))
	}
	return pat
}

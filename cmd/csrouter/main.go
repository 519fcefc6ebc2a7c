// Package main implements csrouter, a command line front end for the routing layer.
//
//	csrouter serve -config server.yaml            run a data or render server process
//	csrouter send  -config client.yaml -to Client|DataServer [-result] STREAM...
//	csrouter set   -config client.yaml -to DataServer -id 7 -command SetCenter 1 2 3
//	csrouter print STREAM...                      replay text-form streams
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

const appName = "csrouter"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "serve":
		return serve(args[1:], stderr)
	case "send":
		return send(args[1:], stdin, stdout, stderr)
	case "set":
		return setProperty(args[1:], stderr)
	case "print":
		return printStreams(args[1:], stdin, stdout, stderr)
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s <command> [flags]

Commands:
  serve   run a server process for the configured role
  send    send text-form streams to a destination mask
  set     push a vector property to an object
  print   print the records of text-form streams

Streams are read from the arguments, or one per line from stdin when none are given.
Run '%s <command> -h' for the flags of a command.
`, appName, appName)
}

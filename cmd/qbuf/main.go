package main

import (
	"fmt"
	"os"

	"github.com/kobzarvs/qbuf/internal/app"
	"github.com/kobzarvs/qbuf/internal/logger"
)

func main() {
	args := os.Args[1:]
	debug := false
	if len(args) > 0 && args[0] == "--debug" {
		debug = true
		args = args[1:]
	}
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	if err := logger.Init(debug); err != nil {
		fmt.Fprintln(os.Stderr, "qbuf: logger:", err)
	}
	defer logger.Close()

	if err := app.New(args).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "qbuf:", err)
		os.Exit(1)
	}
}

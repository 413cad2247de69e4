package main

import (
	"errors"
	"os"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		os.Exit(0)
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}

	statusErrf(false, "Error: %v\n", err)
	os.Exit(exitFatal)
}

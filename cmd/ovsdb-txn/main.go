package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/cloudbase/neutron/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		code := cli.ExitFailure
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		stop()
		os.Exit(code)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/storybook-backend/internal/app"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			os.Exit(runToken(os.Args[2:]))
		case "serve":
		default:
			fmt.Fprintf(os.Stderr, "usage: %s [serve | token <owner-id>]\n", os.Args[0])
			os.Exit(2)
		}
	}

	os.Exit(runServe())
}

func runServe() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init app: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		a.Log.Error("App exited", "error", err)
		return 1
	}
	a.Log.Info("Shutdown complete")
	return 0
}

// runToken prints a development access token for the given owner.
func runToken(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: token <owner-id>")
		return 2
	}
	tok, err := app.IssueDevToken(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	fmt.Println(tok)
	return 0
}

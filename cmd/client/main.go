package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/client"
	"nationcraft.ai/internal/config"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "nation-cli", "client name sent in HELLO")
		token    = flag.String("token", "", "identity token (or NC_TOKEN)")
		identity = flag.String("identity", "", "identity to claim on a dev-mode server (or NC_IDENTITY)")
		envPath  = flag.String("env", ".env", "dotenv file")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("component", "cli")

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.WithError(err).Fatal("load env")
	}
	if *token == "" {
		*token = os.Getenv("NC_TOKEN")
	}
	if *identity == "" {
		*identity = os.Getenv("NC_IDENTITY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dctx, dcancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dctx, client.Options{
		URL:        *url,
		ClientName: *name,
		Token:      *token,
		Identity:   *identity,
		Log:        log,
	})
	if err == nil {
		err = c.WaitSnapshot(dctx)
	}
	dcancel()
	if err != nil {
		log.WithError(err).Fatal("connect")
	}
	defer c.Close()

	wel := c.Welcome()
	fmt.Printf("connected to %s as %s (protocol %s)\n", wel.ServerID, c.Identity(), wel.SelectedVersion)
	if err := repl(ctx, c, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("session ended")
	}
}

// repl reads commands until EOF, "quit", ctx cancellation or a lost connection.
// Notices are printed as they arrive.
func repl(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	msgs := client.NewMessages()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return c.Err()
		case n := <-c.Notices():
			fmt.Fprintf(out, "\n* %s\n> ", msgs.Notice(n))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "quit" || line == "exit" {
				return nil
			}
			if line != "" {
				exec(ctx, c, msgs, line, out)
			}
			fmt.Fprint(out, "> ")
		}
	}
}

func exec(ctx context.Context, c *client.Client, msgs *client.Messages, line string, out io.Writer) {
	cmd, err := parse(line, c.Replica(), c.Identity())
	if err == errUsage {
		fmt.Fprintln(out, helpText)
		return
	}
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if cmd.local != nil {
		if err := cmd.local(out); err != nil {
			fmt.Fprintln(out, err)
		}
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	o, err := c.Do(rctx, *cmd.req)
	if err != nil {
		fmt.Fprintln(out, "request failed:", err)
		return
	}
	fmt.Fprintln(out, msgs.Outcome(o))
}

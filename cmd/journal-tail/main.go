package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"roomchat/internal/config"
	"roomchat/internal/journal"
	"roomchat/internal/logger"

	"github.com/google/uuid"
)

// journal-tail prints journaled room events as JSON lines.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	uri := flag.String("uri", cfg.StreamURI, "RabbitMQ stream URI")
	name := flag.String("stream", cfg.StreamName, "stream name")
	room := flag.String("room", "", "only events of this room id")
	types := flag.String("types", "", "comma-separated event types")
	fromStart := flag.Bool("from-start", false, "replay from the first offset")
	flag.Parse()

	logger.Init(cfg.LogLevel)
	if *uri == "" {
		fmt.Fprintln(os.Stderr, "stream uri required (-uri or STREAM_URI)")
		os.Exit(2)
	}

	var filter journal.Filter
	if *room != "" {
		id, err := uuid.Parse(*room)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid room id: %v\n", err)
			os.Exit(2)
		}
		filter.RoomID = id
	}
	if *types != "" {
		for _, t := range strings.Split(*types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, t)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := journal.Connect(*uri, *name)
	if err != nil {
		logger.Error("journal_connect_failed", "error", err)
		os.Exit(1)
	}
	defer env.Close()

	out := json.NewEncoder(os.Stdout)
	err = journal.Tail(ctx, env, *name, *fromStart, filter, func(rec journal.Record) {
		if err := out.Encode(rec); err != nil {
			logger.Warn("journal_print_failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("journal_tail_failed", "error", err)
		os.Exit(1)
	}
}

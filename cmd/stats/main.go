// Command stats prints aggregate attendance figures for the configured
// channel: stream count, unique chatters, active chatters (present for more
// than half the streams in range), and dedicated chatters (present for every
// stream in range).
//
// Usage:
//
//	stats [minDate maxDate]
//
// Dates are yyyymmdd integers, inclusive on both ends. With no arguments the
// whole recorded history is summarized.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/Tigermouthbear/ttvattendance/attendance"
	"github.com/Tigermouthbear/ttvattendance/config"
	"github.com/Tigermouthbear/ttvattendance/db"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.TwitchChannel == "" {
		slog.Error("TWITCH_CHANNEL is required")
		os.Exit(1)
	}

	minDate, maxDate := 0, 0
	if len(os.Args) == 3 {
		minDate, err = strconv.Atoi(os.Args[1])
		if err != nil {
			slog.Error("invalid min date", slog.String("value", os.Args[1]))
			os.Exit(1)
		}
		maxDate, err = strconv.Atoi(os.Args[2])
		if err != nil {
			slog.Error("invalid max date", slog.String("value", os.Args[2]))
			os.Exit(1)
		}
	} else if len(os.Args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [minDate maxDate]\n", os.Args[0])
		os.Exit(2)
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	store := attendance.NewStore(database, cfg.TwitchChannel, cfg.PollInterval)
	stats, err := store.Summary(context.Background(), minDate, maxDate)
	if err != nil {
		slog.Error("failed to compute stats", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Printf("channel:   %s\n", cfg.TwitchChannel)
	if minDate != 0 || maxDate != 0 {
		fmt.Printf("range:     %d - %d\n", minDate, maxDate)
	}
	fmt.Printf("streams:   %d\n", stats.Streams)
	fmt.Printf("unique:    %d\n", stats.Unique)
	fmt.Printf("active:    %d\n", stats.Active)
	fmt.Printf("dedicated: %d\n", stats.Dedicated)
}

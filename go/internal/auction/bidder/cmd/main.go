package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mcdev12/gavel/go/internal/auction/bidder"
	"github.com/mcdev12/gavel/go/internal/auction/events"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	addr := pflag.String("addr", getEnv("AUCTION_COORDINATOR_ADDR", "localhost:5000"), "coordinator address")
	name := pflag.String("name", "", "display name")
	logLevel := pflag.String("log-level", getEnv("LOG_LEVEL", "info"), "zerolog level")
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if strings.TrimSpace(*name) == "" {
		log.Fatal().Msg("--name is required")
	}

	agent := bidder.New(*addr, bidder.WithObserver(events.NewLogObserver(log.Logger)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	err = agent.Join(dialCtx, *name)
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("failed to join auction")
	}
	defer agent.Close()

	fmt.Println("commands: bid <amount> | confirm | state | quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-agent.Done():
			log.Info().Msg("coordinator closed the connection")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(agent, line); quit {
				return
			}
		}
	}
}

func runCommand(agent *bidder.Agent, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "bid":
		if len(fields) != 2 {
			fmt.Println("usage: bid <amount>")
			return false
		}
		err := agent.SubmitBid(fields[1])
		var rejected *bidder.RejectedError
		switch {
		case err == nil:
		case errors.As(err, &rejected):
			fmt.Println("Your " + strings.ToLower(rejected.Notice[:1]) + rejected.Notice[1:])
		case errors.Is(err, bidder.ErrInvalidAmount):
			fmt.Println("Invalid bid amount.")
		case errors.Is(err, bidder.ErrNoOpenAuction):
			fmt.Println("No auction is open.")
		default:
			log.Error().Err(err).Msg("failed to submit bid")
		}

	case "confirm":
		if err := agent.ConfirmFinal(); err != nil {
			if errors.Is(err, bidder.ErrNotAwaitedBidder) {
				fmt.Println("Only the last bidder can confirm when requested.")
				return false
			}
			log.Error().Err(err).Msg("failed to confirm final bid")
		}

	case "state":
		out, err := json.MarshalIndent(agent.Snapshot(), "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("failed to render state")
			return false
		}
		fmt.Println(string(out))

	case "quit", "exit":
		return true

	default:
		fmt.Println("commands: bid <amount> | confirm | state | quit")
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"tradescope.com/feedsync"
)

const FeedSyncCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

type Config struct {
	ApiUrl       string `yaml:"api_url"`
	SubscribeUrl string `yaml:"subscribe_url"`
	Jwt          string `yaml:"jwt,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		ApiUrl:       "https://api.tradescope.com",
		SubscribeUrl: "wss://feed.tradescope.com/subscribe",
	}
}

func main() {
	usage := `Feed sync control.

The default urls are:
    api_url: https://api.tradescope.com
    subscribe_url: wss://feed.tradescope.com/subscribe

Usage:
    feedsyncctl whoami [--config=<config>] [--jwt=<jwt>]
    feedsyncctl events [--config=<config>] [--jwt=<jwt>]
        --range=<range>
        [--currency=<currency>...]
        [--page_size=<page_size>]
    feedsyncctl notes [--config=<config>] [--jwt=<jwt>]
        [--range=<range>]
    feedsyncctl pin [--config=<config>] [--jwt=<jwt>] <note_id>
        [--unpin]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --config=<config>        Path to a yaml config file.
    --jwt=<jwt>              Your platform session JWT.
    --range=<range>          Date range as <start>..<end>, dates as 2006-01-02.
    --currency=<currency>    Filter currency, repeatable.
    --page_size=<page_size>  Fetch page size.
    --unpin                  Remove the pin instead of setting it.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FeedSyncCtlVersion)
	if err != nil {
		panic(err)
	}

	config := loadConfig(opts)

	if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(config)
	} else if events_, _ := opts.Bool("events"); events_ {
		events(opts, config)
	} else if notes_, _ := opts.Bool("notes"); notes_ {
		notes(opts, config)
	} else if pin_, _ := opts.Bool("pin"); pin_ {
		pin(opts, config)
	}
}

func loadConfig(opts docopt.Opts) *Config {
	config := defaultConfig()

	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			Err.Fatalf("Could not read config (%s).", err)
		}
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			Err.Fatalf("Could not parse config (%s).", err)
		}
	}

	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		config.Jwt = jwt
	}
	if config.Jwt == "" {
		config.Jwt = promptJwt()
	}

	return config
}

func promptJwt() string {
	fmt.Print("Session JWT: ")
	jwtBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		Err.Fatalf("Could not read JWT (%s).", err)
	}
	return strings.TrimSpace(string(jwtBytes))
}

func parseRange(opts docopt.Opts) (time.Time, time.Time) {
	rangeStr, err := opts.String("--range")
	if err != nil || rangeStr == "" {
		// today
		now := time.Now()
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	}

	parts := strings.SplitN(rangeStr, "..", 2)
	if len(parts) != 2 {
		Err.Fatalf("Invalid range %q, want <start>..<end>.", rangeStr)
	}
	start, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		Err.Fatalf("Invalid range start (%s).", err)
	}
	end, err := time.Parse("2006-01-02", parts[1])
	if err != nil {
		Err.Fatalf("Invalid range end (%s).", err)
	}
	return start, end.AddDate(0, 0, 1)
}

func whoami(config *Config) {
	sessionJwt, err := feedsync.ParseSessionJwtUnverified(config.Jwt)
	if err != nil {
		Err.Fatalf("Could not parse JWT (%s).", err)
	}
	Out.Printf("user_id:    %s", sessionJwt.UserId)
	Out.Printf("journal_id: %s", sessionJwt.JournalId)
	if sessionJwt.Plan != "" {
		Out.Printf("plan:       %s", sessionJwt.Plan)
	}
}

func events(opts docopt.Opts, config *Config) {
	rangeStart, rangeEnd := parseRange(opts)

	currencies := []string{}
	if currencies_, ok := opts["--currency"].([]string); ok {
		currencies = currencies_
	}

	pageSize := 0
	if pageSize_, err := opts.Int("--page_size"); err == nil {
		pageSize = pageSize_
	}

	query, err := feedsync.NewFeedQuery(rangeStart, rangeEnd, currencies, pageSize)
	if err != nil {
		Err.Fatalf("Invalid query (%s).", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := feedsync.NewJournalApiWithContext(cancelCtx, config.ApiUrl)
	api.SetJwt(config.Jwt)
	channel := feedsync.NewWsPushChannelWithDefaults[feedsync.EconomicEvent](
		cancelCtx,
		config.SubscribeUrl,
		config.Jwt,
	)
	defer channel.Close()

	feed := feedsync.NewFeedWithDefaults(
		cancelCtx,
		api.EconomicEventSource(),
		channel,
		feedsync.TopicEconomicEvents,
		feedsync.EconomicEventRelevance,
	)
	defer feed.Close()

	removeChangeCallback := feed.AddChangeCallback(func() {
		go printEvents(feed)
	})
	defer removeChangeCallback()
	removeErrorCallback := feed.AddSubscriptionErrorCallback(func(err error) {
		Err.Printf("Subscription error (%s).", err)
	})
	defer removeErrorCallback()

	feed.SetQuery(query)

	waitForInterrupt()
}

func printEvents(feed *feedsync.Feed[feedsync.EconomicEvent]) {
	snapshot := feed.Snapshot()
	if snapshot.IsLoadingInitial {
		return
	}
	if snapshot.LastError != nil {
		Err.Printf("Fetch error (%s).", snapshot.LastError)
		return
	}
	Out.Printf("-- %d events (hasMore %t) --", len(snapshot.Items), snapshot.HasMore)
	for _, event := range snapshot.Items {
		Out.Printf(
			"%s  %-4s %-6s %s",
			event.EventTime.Format("2006-01-02 15:04"),
			event.Currency,
			event.Impact,
			event.Title,
		)
	}
}

func notes(opts docopt.Opts, config *Config) {
	rangeStart, rangeEnd := parseRange(opts)

	query, err := feedsync.NewFeedQuery(rangeStart, rangeEnd, nil, 0)
	if err != nil {
		Err.Fatalf("Invalid query (%s).", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := feedsync.NewJournalApiWithContext(cancelCtx, config.ApiUrl)
	api.SetJwt(config.Jwt)
	channel := feedsync.NewWsPushChannelWithDefaults[feedsync.ReminderNote](
		cancelCtx,
		config.SubscribeUrl,
		config.Jwt,
	)
	defer channel.Close()

	feed := feedsync.NewFeedWithDefaults(
		cancelCtx,
		api.ReminderNoteSource(),
		channel,
		feedsync.TopicReminderNotes,
		feedsync.ReminderNoteRelevance,
	)
	defer feed.Close()

	removeChangeCallback := feed.AddChangeCallback(func() {
		go printNotes(feed)
	})
	defer removeChangeCallback()
	removeErrorCallback := feed.AddSubscriptionErrorCallback(func(err error) {
		Err.Printf("Subscription error (%s).", err)
	})
	defer removeErrorCallback()

	feed.SetQuery(query)

	waitForInterrupt()
}

func printNotes(feed *feedsync.Feed[feedsync.ReminderNote]) {
	snapshot := feed.Snapshot()
	if snapshot.IsLoadingInitial {
		return
	}
	if snapshot.LastError != nil {
		Err.Printf("Fetch error (%s).", snapshot.LastError)
		return
	}
	Out.Printf("-- %d notes (hasMore %t) --", len(snapshot.Items), snapshot.HasMore)
	for _, note := range snapshot.Items {
		pinned := " "
		if note.IsPinned {
			pinned = "*"
		}
		Out.Printf("%s %s  %s", pinned, note.NoteId, note.Title)
	}
}

// optimistic pin: the local value flips immediately, then the platform
// confirms or the value reverts.
func pin(opts docopt.Opts, config *Config) {
	noteIdStr, _ := opts.String("<note_id>")
	noteId, err := feedsync.ParseId(noteIdStr)
	if err != nil {
		Err.Fatalf("Invalid note_id (%s).", err)
	}
	unpin, _ := opts.Bool("--unpin")
	isPinned := !unpin

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := feedsync.NewJournalApiWithContext(cancelCtx, config.ApiUrl)
	api.SetJwt(config.Jwt)
	channel := feedsync.NewWsPushChannelWithDefaults[feedsync.ReminderNote](
		cancelCtx,
		config.SubscribeUrl,
		config.Jwt,
	)
	defer channel.Close()

	feed := feedsync.NewFeedWithDefaults(
		cancelCtx,
		api.ReminderNoteSource(),
		channel,
		feedsync.TopicReminderNotes,
		feedsync.ReminderNoteRelevance,
	)
	defer feed.Close()

	now := time.Now()
	query := feedsync.RequireFeedQuery(now.AddDate(0, -1, 0), now.AddDate(0, 1, 0), nil, 0)
	feed.SetQuery(query)

	// wait for the initial page
	timeout := time.After(30 * time.Second)
	for feed.Snapshot().IsLoadingInitial {
		select {
		case <-timeout:
			Err.Fatalf("Timed out waiting for the notes feed.")
		case <-time.After(100 * time.Millisecond):
		}
	}

	mutation, err := feed.ApplyOptimistic(noteId, func(note feedsync.ReminderNote) feedsync.ReminderNote {
		note.IsPinned = isPinned
		return note
	})
	if err != nil {
		Err.Fatalf("Could not pin (%s).", err)
	}

	err = api.SetNotePinnedSync(cancelCtx, &feedsync.SetNotePinnedArgs{
		NoteId:   noteId,
		IsPinned: isPinned,
	})
	if err != nil {
		mutation.Revert(err)
		Err.Fatalf("Pin failed and was reverted (%s).", err)
	}
	mutation.Confirm()
	Out.Printf("Pinned %s = %t.", noteId, isPinned)
}

func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c
}

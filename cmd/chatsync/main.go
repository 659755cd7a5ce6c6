// chatsync is a terminal demo client: it synchronizes one chat's
// timeline against a backend and prints it as it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chatsync/pkg/cache"
	"chatsync/pkg/client"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/httpx"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/realtime"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/threads"
)

func main() {
	_ = godotenv.Load(".env")
	cfgPath := flag.String("config", "", "path to yaml config file")
	backendURL := flag.String("backend", "", "backend base URL (overrides config)")
	chatID := flag.String("chat", "", "chat to synchronize (overrides config)")
	userID := flag.String("user", "", "acting user id (overrides config)")
	send := flag.String("send", "", "send one message after the initial load")
	rules := flag.String("rules", "", "thread rules JSON applied as the active filter")
	follow := flag.Bool("follow", false, "keep following the change feed until interrupted")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	if *backendURL != "" {
		cfg.Backend.BaseURL = *backendURL
	}
	if *chatID != "" {
		cfg.Engine.ChatID = *chatID
	}
	if *userID != "" {
		cfg.Engine.UserID = *userID
	}
	if cfg.Backend.BaseURL == "" || cfg.Engine.ChatID == "" || cfg.Engine.UserID == "" {
		fmt.Fprintln(os.Stderr, "backend URL, chat id and user id are required (flags or config)")
		os.Exit(1)
	}

	be := client.New(cfg.Backend.BaseURL,
		client.WithDoer(httpx.New(cfg.Backend.Transport)),
		client.WithAPIKey(cfg.Backend.APIKey),
		client.WithPageSize(cfg.Engine.PageSize),
	)

	opts := []engine.Option{
		engine.WithPageSize(cfg.Engine.PageSize),
		engine.WithWatchdog(cfg.Engine.SubscribeWatchdog.Duration()),
		engine.WithBackoff(cfg.Engine.ReconnectBackoff.Duration()),
		engine.WithHydrateLimit(cfg.Engine.HydrateRPS, cfg.Engine.HydrateBurst),
		engine.WithFeed(realtime.NewWSFeed(cfg.Backend.BaseURL).Dial),
	}

	var sweeper *cache.Sweeper
	if cfg.Cache.Enabled && cfg.Cache.Path != "" {
		c, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			shutdown.Abort("cache open failed", err, cfg.Cache.Path)
		}
		defer c.Close()
		opts = append(opts, engine.WithCache(c))

		retention, err := time.ParseDuration(cfg.Cache.Retention)
		if err != nil {
			log.Fatalf("invalid cache retention %q: %v", cfg.Cache.Retention, err)
		}
		sweeper, err = cache.NewSweeper(c, cache.RetentionConfig{
			Period:   retention,
			Cron:     cfg.Cache.Cron,
			MaxBytes: cfg.Cache.MaxBytes.Int64(),
		})
		if err != nil {
			log.Fatalf("invalid cache sweep cron: %v", err)
		}
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	eng := engine.New(engine.Context{ChatID: cfg.Engine.ChatID, UserID: cfg.Engine.UserID}, be, opts...)
	if err := eng.Start(ctx); err != nil {
		logger.Warn("initial_load_failed", "error", err)
	}
	defer eng.Close()
	if sweeper != nil {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	if *rules != "" {
		eng.SetActiveThread(&models.Thread{
			ID:     "cli",
			ChatID: cfg.Engine.ChatID,
			Rules:  threads.ParseRules([]byte(*rules)),
		})
	}

	if *send != "" {
		if _, err := eng.Send(ctx, models.Draft{Kind: models.KindText, Content: *send}); err != nil {
			logger.Error("send_failed", "error", err)
		}
	}

	printTimeline(eng)

	if *follow {
		// repaint on a coarse tick; the engine converges in the background
		tick := time.NewTicker(2 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				printTimeline(eng)
			}
		}
	}
}

func printTimeline(eng *engine.Engine) {
	recs := eng.Filtered()
	fmt.Printf("--- %d messages (newest first) ---\n", len(recs))
	for _, r := range recs {
		sender := r.SenderID
		if r.FromAgent() {
			sender = r.AgentID + " (agent)"
		}
		marks := ""
		if r.Tentative() {
			marks += " [sending]"
		}
		if r.Retracted {
			marks += " [retracted]"
		}
		if r.EditedAt > 0 {
			marks += " [edited]"
		}
		ts := time.Unix(0, r.CreatedAt).Format("15:04:05")
		content := r.Content
		if r.Kind != models.KindText && r.Kind != "" {
			content = "<" + string(r.Kind) + ">" + content
		}
		fmt.Printf("%s %-12s %s%s\n", ts, sender, content, marks)
	}
	if agents := eng.Composing(); len(agents) > 0 {
		fmt.Printf("composing: %s\n", strings.Join(agents, ", "))
	}
	st := eng.Stats()
	fmt.Printf("subscription: %s  (events=%d hydrations=%d pages=%d)\n",
		st.Subscription, st.EventsAccepted, st.Hydrations, st.PageLoads)
}

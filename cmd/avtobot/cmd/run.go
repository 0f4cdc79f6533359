package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avtogeo/avtobot/internal/authoring"
	"github.com/avtogeo/avtobot/internal/bot"
	"github.com/avtogeo/avtobot/internal/broadcast"
	"github.com/avtogeo/avtobot/internal/config"
	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/gen"
	"github.com/avtogeo/avtobot/internal/heartbeat"
	"github.com/avtogeo/avtobot/internal/moderation"
	"github.com/avtogeo/avtobot/internal/reconcile"
	"github.com/avtogeo/avtobot/internal/router"
	"github.com/avtogeo/avtobot/internal/state"
	"github.com/avtogeo/avtobot/internal/storage"
	"github.com/avtogeo/avtobot/internal/store/postgres"
	"github.com/avtogeo/avtobot/internal/transport"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	Long:  "Connect to Telegram and run the full pipeline: user topic routing, post authoring, broadcasts, moderation, and the deletion sweep.",
	RunE:  runBot,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to config file (default ~/.avtobot/config.json)")
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(runConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log.Printf("starting avtobot: %s", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	locker, err := postgres.NewLocker(db)
	if err != nil {
		return fmt.Errorf("failed to create locker: %w", err)
	}

	objects, err := storage.NewS3(ctx, storage.S3Options{
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create object storage: %w", err)
	}

	generator, err := gen.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	msgr, err := transport.NewTelegram(cfg.Telegram.Token, cfg.Telegram.GroupID, cfg.Telegram.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to create telegram transport: %w", err)
	}

	states := state.NewStore()
	threads := router.New(db, msgr, locker, cfg.Telegram.GroupID)
	auth := authoring.New(states, msgr, generator, objects, db, cfg.Telegram.ChannelID, cfg.Telegram.ChannelURL)
	bcast := broadcast.New(states, msgr, db)
	filter := moderation.New(msgr, cfg.Telegram.AdminIDs, cfg.Telegram.ChannelID)

	b := bot.New(ctx, bot.Options{
		Messenger: msgr,
		Users:     db,
		Threads:   threads,
		States:    states,
		Filter:    filter,
		Authoring: auth,
		Broadcast: bcast,
		AdminIDs:  cfg.Telegram.AdminIDs,
		GroupID:   cfg.Telegram.GroupID,
	})

	go heartbeat.New(db).Run(ctx)
	go reconcile.New(db, msgr, cfg.Telegram.ChannelID).Run(ctx)

	if err := msgr.Start(ctx, func(ev event.InboundEvent) {
		b.HandleUpdate(ctx, ev)
	}); err != nil {
		return fmt.Errorf("failed to start telegram transport: %w", err)
	}

	<-ctx.Done()
	log.Println("shutting down...")
	b.Stop()
	return nil
}

package main

import (
	"context"
	"time"

	tdtelegram "github.com/gotd/td/telegram"
	"go.uber.org/zap"

	"tgmirror/internal/config"
	"tgmirror/internal/domain"
	"tgmirror/internal/store/sqlite"
	"tgmirror/internal/syncer"
	"tgmirror/internal/telegram"
)

// backfillPerTick bounds how many conversations get one hole fill per
// sync tick, so a fresh account does not hammer history endpoints.
const backfillPerTick = 8

// App wires the store, the Telegram client and the sync engine into a
// headless mirror process.
type App struct {
	cfg   config.Config
	log   *zap.Logger
	store *sqlite.Store
	sync  *syncer.Syncer
}

func NewApp(cfg config.Config, log *zap.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Run opens the store, connects the client and keeps the mirror in sync
// until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.Configured() {
		return telegram.ErrNotConfigured
	}
	store, err := sqlite.Open(a.cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.store = store

	client := tdtelegram.NewClient(a.cfg.APIID, a.cfg.APIHash, tdtelegram.Options{
		Logger:         a.log.Named("td"),
		SessionStorage: &telegram.FileSessionStorage{Path: a.cfg.SessionPath()},
	})
	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if !status.Authorized {
			return telegram.ErrUnauthorized
		}
		a.sync = syncer.New(store, client.API(), syncer.WithLogger(a.log.Named("sync")))

		ticker := time.NewTicker(a.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			if err := a.tick(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

// tick walks the chat list once and schedules one backward hole fill for
// a handful of conversations that still have gaps.
func (a *App) tick(ctx context.Context) error {
	req := syncer.ChatListRequest{FirstPage: true, Limit: 100}
	var seen []domain.ConversationID
	for {
		update, err := a.sync.SyncChatList(ctx, req)
		if err != nil {
			return err
		}
		if update.Unchanged {
			break
		}
		for _, summary := range update.Summaries {
			seen = append(seen, summary.Conversation)
		}
		if !update.HasAnchor || len(update.Summaries) == 0 {
			break
		}
		req = syncer.ChatListRequest{Anchor: update.NextAnchor, Limit: 100}
	}

	filled := 0
	for _, conv := range seen {
		if filled >= backfillPerTick {
			break
		}
		axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
		var holes []domain.IDRange
		err := a.store.View(ctx, func(tx syncer.Tx) error {
			var err error
			holes, err = tx.Holes(conv, domain.NamespaceCloud, axis)
			return err
		})
		if err != nil {
			return err
		}
		if len(holes) == 0 {
			continue
		}
		newest := holes[len(holes)-1]
		result, err := a.sync.FillHole(ctx, conv, domain.NamespaceCloud, axis,
			syncer.FillBetween(newest.Upper, newest.Lower), 100)
		if err != nil {
			return err
		}
		if result.Fetched {
			filled++
		}
	}

	metrics := a.sync.MetricsSnapshot()
	a.log.Info("sync tick complete",
		zap.Int("conversations", len(seen)),
		zap.Int("fills", filled),
		zap.Int("history_requests", metrics.HistoryRequests),
		zap.Int("dialog_requests", metrics.DialogRequests),
		zap.Int("transport_errors", metrics.TransportErrors))
	return nil
}

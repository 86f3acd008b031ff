// Package daemon wires the collaborators into a running service: the
// HTTP API, the optional Matrix transport, the context-refresh worker,
// and the embedding attach worker, all sharing one store and one event
// bus.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/suimate-labs/suimate/internal/auth"
	"github.com/suimate-labs/suimate/internal/channel/matrix"
	"github.com/suimate-labs/suimate/internal/chat"
	"github.com/suimate-labs/suimate/internal/intent"
	"github.com/suimate-labs/suimate/internal/llm"
	"github.com/suimate-labs/suimate/internal/market"
	"github.com/suimate-labs/suimate/internal/recap"
	"github.com/suimate-labs/suimate/internal/sui"
	"github.com/suimate-labs/suimate/pkg/channel"
	"github.com/suimate-labs/suimate/pkg/embeddings"
	"github.com/suimate-labs/suimate/pkg/room"
)

// Daemon is the assembled service.
type Daemon struct {
	cfg   *Config
	store room.Store
	bus   *EventBus

	auth     *auth.Service
	pipeline *chat.Pipeline
	recap    *recap.Worker
	embedder *embeddings.Worker // nil when disabled
	matrix   *matrix.Channel    // nil when disabled
}

// New wires a daemon from config and an opened store.
func New(cfg *Config, store room.Store) (*Daemon, error) {
	router, err := buildRouter(cfg.LLM)
	if err != nil {
		return nil, err
	}

	bus := NewEventBus()
	suiClient := sui.NewClient(cfg.Sui.RPCURL, cfg.Sui.PositionType, 0)
	marketClient := market.NewClient(cfg.Market.BaseURL, 0)

	recapWorker := recap.NewWorker(store, router, bus)
	pipeline := chat.NewPipeline(
		store,
		intent.NewClassifier(router, 0),
		chat.NewAggregator(suiClient, marketClient),
		chat.NewComposer(router, 0),
		recapWorker,
	)
	pipeline.SetRefreshThreshold(cfg.Context.RefreshThreshold)

	secret := cfg.Server.AuthSecret
	if secret == "" {
		// Ephemeral secret: sessions won't survive a restart.
		buf := make([]byte, 32)
		rand.Read(buf)
		secret = hex.EncodeToString(buf)
		slog.Warn("no auth secret configured, using an ephemeral one")
	}

	d := &Daemon{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		auth:     auth.NewService(store, []byte(secret), 0),
		pipeline: pipeline,
		recap:    recapWorker,
	}

	if cfg.Embeddings.Enabled && cfg.Embeddings.TEIURL != "" {
		embedClient := embeddings.NewClient(cfg.Embeddings.TEIURL, 0)
		d.embedder = embeddings.NewWorker(store, embedClient)
		// Same vectors the attach worker writes feed recall at read time.
		pipeline.SetRecaller(chat.NewRecaller(store, embedClient, 0))
	}
	if cfg.Matrix.Enabled {
		d.matrix = matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			Password:     cfg.Matrix.Password,
			ServerName:   cfg.Matrix.ServerName,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			DataDir:      cfg.Matrix.DataDir,
		})
	}
	return d, nil
}

// buildRouter assembles the tiered provider router from config. At
// least one tier must be configured.
func buildRouter(cfg LLMConfig) (*llm.Router, error) {
	providers := map[llm.Tier]llm.Provider{}
	if p := buildProvider(cfg.Deep); p != nil {
		providers[llm.TierDeep] = p
	}
	if p := buildProvider(cfg.Fast); p != nil {
		providers[llm.TierFast] = p
	}
	if len(providers) == 0 {
		return nil, errors.New("no LLM provider configured")
	}
	return llm.NewRouter(providers), nil
}

func buildProvider(cfg ProviderConfig) llm.Provider {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil
	}
	if cfg.BaseURL != "" {
		return llm.NewAnthropicCompat(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model)
	}
	return llm.NewAnthropic(cfg.APIKey, cfg.Model)
}

// Run serves until ctx is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.Server.Addr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.recap.Run(ctx)
		return nil
	})
	if d.embedder != nil {
		g.Go(func() error {
			d.embedder.Run(ctx)
			return nil
		})
	}
	if d.matrix != nil {
		g.Go(func() error {
			if err := d.matrix.Start(ctx, d.handleChannelMessage); err != nil {
				return fmt.Errorf("matrix channel: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if d.matrix != nil {
			d.matrix.Stop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleChannelMessage routes an inbound transport message through the
// pipeline, binding the conversation to a persistent room on first
// contact.
func (d *Daemon) handleChannelMessage(ctx context.Context, msg channel.Message) error {
	rm, err := d.store.RoomByChannelKey(ctx, msg.Key())
	if errors.Is(err, room.ErrNotFound) {
		rm, err = d.createChannelRoom(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("resolve channel room: %w", err)
	}

	reply, err := d.pipeline.HandleMessage(ctx, rm.ID, d.cfg.Matrix.WalletAddress, msg.SenderID, msg.Content)
	if err != nil {
		return err
	}

	d.bus.Publish(Event{Type: EventChat, Room: rm.ID, Role: room.RoleUser, Content: msg.Content})
	d.bus.Publish(Event{Type: EventChat, Room: rm.ID, Role: room.RoleAssistant, Content: reply.Content})
	return d.matrix.Send(ctx, channel.Response{
		ConversationID: msg.ConversationID,
		Content:        reply.Content,
	})
}

func (d *Daemon) createChannelRoom(ctx context.Context, msg channel.Message) (*room.Room, error) {
	now := time.Now().UTC()

	// The transport sender owns the room; provision an account for it on
	// first contact so the ownership reference holds.
	owner := &room.User{
		ID:        msg.SenderID,
		Name:      msg.SenderID,
		AuthType:  "channel",
		CreatedAt: now,
	}
	if err := d.store.CreateUser(ctx, owner); err != nil && !errors.Is(err, room.ErrUserExists) {
		return nil, fmt.Errorf("provision channel user: %w", err)
	}

	rm := &room.Room{
		ID:         uuid.NewString(),
		OwnerID:    msg.SenderID,
		Title:      fmt.Sprintf("%s: %s", msg.Source, msg.ConversationID),
		IsActive:   true,
		Context:    room.NewContext(),
		CreatedAt:  now,
		UpdatedAt:  now,
		ChannelKey: msg.Key(),
	}
	if err := d.store.CreateRoom(ctx, rm); err != nil {
		return nil, err
	}
	slog.Info("channel room created", "room", rm.ID, "key", msg.Key())
	return rm, nil
}

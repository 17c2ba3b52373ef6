package main

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/config"
	"github.com/dentalcare/dentalcare/internal/domain/admin"
	"github.com/dentalcare/dentalcare/internal/domain/billing"
	"github.com/dentalcare/dentalcare/internal/domain/clinical"
	"github.com/dentalcare/dentalcare/internal/domain/identity"
	"github.com/dentalcare/dentalcare/internal/domain/messaging"
	"github.com/dentalcare/dentalcare/internal/domain/records"
	"github.com/dentalcare/dentalcare/internal/domain/reminder"
	"github.com/dentalcare/dentalcare/internal/domain/scheduling"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/blobstore"
	"github.com/dentalcare/dentalcare/internal/platform/db"
	"github.com/dentalcare/dentalcare/internal/platform/llm"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

// app holds every wired service. The HTTP server and the maintenance
// commands share it so both run the same code paths.
type app struct {
	tokens      *auth.Tokens
	revocations *auth.TokenRevocationStore
	roles       identity.RoleRepository

	identity      *identity.Service
	admin         *admin.Service
	scheduling    *scheduling.Service
	clinical      *clinical.Service
	records       *records.Service
	billing       *billing.Service
	messaging     *messaging.Service
	notifications *notification.Service
	dispatcher    *reminder.Dispatcher

	store  *blobstore.FSStore
	signer *blobstore.URLSigner
	loc    *time.Location
}

// newApp builds the service graph on pool. publisher may be nil for
// commands that run outside the server; notifications are then stored
// without a realtime push.
func newApp(cfg *config.Config, pool *pgxpool.Pool, signingKey []byte, publisher websocket.EventPublisher, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokens(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: signingKey,
		TTL:        cfg.AuthTokenTTL,
	})
	revocations := auth.NewTokenRevocationStore()
	tx := db.NewTxRunner(pool)

	accounts := identity.NewAccountRepoPG(pool)
	roles := identity.NewRoleRepoPG(pool)
	identitySvc := identity.NewService(accounts, roles, tx, tokens, revocations,
		identity.WithDefaultRole(auth.Role(cfg.DefaultSignupRole)),
		identity.WithLogger(logger.With().Str("component", "identity").Logger()),
	)
	adminSvc := admin.NewService(accounts, roles, admin.NewStatsRepoPG(pool), logger.With().Str("component", "admin").Logger())

	notifSvc := notification.NewService(notification.NewRepoPG(pool), notification.NewTemplateEngine(), publisher,
		logger.With().Str("component", "notification").Logger())

	reminderRepo := reminder.NewRepoPG(pool)
	dispatcher := reminder.NewDispatcher(reminderRepo, notifSvc, logger.With().Str("component", "reminder-dispatcher").Logger())
	dispatcher.BatchSize = cfg.ReminderBatchSize
	dispatcher.Concurrency = cfg.ReminderConcurrency
	dispatcher.Interval = cfg.ReminderInterval

	schedulingSvc := scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewWaitlistRepoPG(pool),
		scheduling.NewReviewRepoPG(pool),
		reminder.NewPlanner(reminderRepo, loc),
		notifSvc, tx, loc,
		logger.With().Str("component", "scheduling").Logger(),
	)

	completer := llm.NewClient(llm.Config{
		URL:     cfg.AIGatewayURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	clinicalSvc := clinical.NewService(
		clinical.NewTreatmentRepoPG(pool),
		clinical.NewPrescriptionRepoPG(pool),
		completer, notifSvc,
		logger.With().Str("component", "clinical").Logger(),
	)

	signer := blobstore.NewURLSigner(signingKey, cfg.StoragePublicURL)
	store, err := blobstore.New(cfg.StorageDriver, cfg.StorageRoot, signer)
	if err != nil {
		revocations.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	recordsSvc := records.NewService(
		records.NewImageRepoPG(pool),
		records.NewHistoryRepoPG(pool),
		store, cfg.StorageBucket, cfg.SignedURLTTL,
		logger.With().Str("component", "records").Logger(),
	)

	billingSvc := billing.NewService(billing.NewPaymentRepoPG(pool), billing.NewOwnerLookupPG(pool),
		logger.With().Str("component", "billing").Logger())

	messagingSvc := messaging.NewService(messaging.NewMessageRepoPG(pool), messaging.NewDirectoryPG(pool),
		publisher, notifSvc, logger.With().Str("component", "messaging").Logger())

	return &app{
		tokens:        tokens,
		revocations:   revocations,
		roles:         roles,
		identity:      identitySvc,
		admin:         adminSvc,
		scheduling:    schedulingSvc,
		clinical:      clinicalSvc,
		records:       recordsSvc,
		billing:       billingSvc,
		messaging:     messagingSvc,
		notifications: notifSvc,
		dispatcher:    dispatcher,
		store:         store,
		signer:        signer,
		loc:           loc,
	}, nil
}

func (a *app) Close() {
	a.revocations.Close()
}

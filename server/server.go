package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/safeline/server/auth/key"
	"github.com/Daskott/safeline/server/fakecall"
	"github.com/Daskott/safeline/server/gstorage"
	"github.com/Daskott/safeline/server/ingest"
	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/sos"
	"github.com/Daskott/safeline/server/twilio"
	"github.com/Daskott/safeline/server/work"
	"github.com/Daskott/safeline/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
)

var (
	logg     = logger.NewLogger()
	validate = validator.New()

	authKeyPair       *key.KeyPair
	twilioClient      *twilio.ClientWrapper
	tracker           *location.Tracker
	sosDispatcher     *sos.Dispatcher
	fakeCallScheduler *fakecall.Scheduler
)

func init() {
	if err := RegisterValidators(validate); err != nil {
		logg.Fatal(err)
	}
}

// Start runs the safeline server until SIGINT or SIGTERM
func Start(config shared.ServerConfig, devMode bool) {
	defer logger.Sync()

	var err error
	var backup *sqliteBackup
	var relay *location.RedisRelay
	var ingestor *ingest.Ingestor

	applyModelSettings(config.Safeline)
	configDir := configDirectory(devMode)

	dbFilePath, err := models.DbFilePath(configDir)
	fatalOnError(err)

	storageConfig := config.Google.Storage
	if storageConfig.EnableSqliteBackupAndSync {
		storage, err := gstorage.NewGStorage(config.Google.ApplicationCredentials)
		fatalOnError(err)
		defer storage.Close()

		backup = &sqliteBackup{storage: storage, config: storageConfig, dbFilePath: dbFilePath}
		fatalOnError(backup.restoreSqliteDb())
	}

	fatalOnError(models.AutoMigrate(config.Sqlite.PassPhrase, configDir))

	authKeyPair, err = loadKeyPair(config.Safeline.PrivateKeyPem, devMode)
	fatalOnError(err)

	staleAfter := time.Duration(config.Safeline.Location.StaleAfterInMinutes) * time.Minute
	if staleAfter <= 0 {
		staleAfter = location.DefaultStaleAfter
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := location.NewHub()
	if config.Redis.Addr != "" {
		relay, err = location.NewRedisRelay(config.Redis, staleAfter)
		fatalOnError(err)
		go relay.Listen(ctx, hub)
	}

	twilioClient = twilio.NewClient(config.Twilio, config.Safeline.AppUrl, devMode)
	tracker = location.NewTracker(hub, relay, staleAfter)

	workerPool, err := work.NewWorkerAdapter(config.Safeline.Cron.TimeZone, config.Safeline.Workers)
	fatalOnError(err)

	sosDispatcher = sos.NewDispatcher(twilioClient, tracker, workerPool, config.Safeline.Sos)
	fakeCallScheduler = fakecall.NewScheduler(tracker, workerPool)

	fatalOnError(registerJobHandlers(workerPool, backup))
	fatalOnError(enqueueJobs(workerPool, backup))
	fatalOnError(workerPool.Start())

	if config.Mqtt.Broker != "" {
		ingestor = ingest.NewIngestor(config.Mqtt, tracker, sosDispatcher)
		fatalOnError(ingestor.Start())
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", config.Safeline.Listener.Port),
		Handler: newRouter(),
	}

	go serve(server)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logg.Info("Shutting down safeline server...")
	cleanup(server,
		func() {
			if ingestor != nil {
				ingestor.Stop()
			}
		},
		func() { workerPool.Stop() },
		func() {
			cancel()
			if relay != nil {
				relay.Close()
			}
		},
		func() {
			if backup == nil {
				return
			}
			if err := backup.backupSqliteDb(nil); err != nil {
				logg.Error("final db backup failed: ", err)
			}
		},
	)

	if err := models.CloseDB(); err != nil {
		logg.Error(err)
	}
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(initialContextMiddleware)

	v1 := router.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/login", logIn).Methods("POST")
	v1.HandleFunc("/jwks", jwks).Methods("GET")
	v1.HandleFunc("/sms", smsWebhook).Methods("POST")

	// Admin routes
	v1.Handle("/users", adminRouteMiddleware(http.HandlerFunc(createUser))).Methods("POST")

	jobsRouter := v1.PathPrefix("/jobs").Subrouter()
	jobsRouter.Use(adminRouteMiddleware)
	jobsRouter.HandleFunc("", fetchJobs).Methods("GET")
	jobsRouter.HandleFunc("/stats", jobsStats).Methods("GET")
	jobsRouter.HandleFunc("/{id:[0-9]+}", findJob).Methods("GET")

	// User resources
	userRouter := v1.PathPrefix("/users/{uid:[0-9]+}").Subrouter()
	userRouter.Use(protectedRouteMiddleware)

	userRouter.HandleFunc("", findUser).Methods("GET")
	userRouter.HandleFunc("", updateUser).Methods("PUT")
	userRouter.HandleFunc("", deleteUser).Methods("DELETE")

	userRouter.HandleFunc("/contacts", fetchContacts).Methods("GET")
	userRouter.HandleFunc("/contacts", createContact).Methods("POST")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}", updateContact).Methods("PUT")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}", deleteContact).Methods("DELETE")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}/primary", setPrimaryContact).Methods("PUT")

	userRouter.HandleFunc("/invitations", fetchInvitations).Methods("GET")
	userRouter.HandleFunc("/invitations", sendInvitation).Methods("POST")
	userRouter.HandleFunc("/invitations/redeem", redeemInvitation).Methods("POST")
	userRouter.HandleFunc("/invitations/{id:[0-9]+}", findInvitation).Methods("GET")
	userRouter.HandleFunc("/invitations/{id:[0-9]+}", updateInvitation).Methods("PUT")

	userRouter.HandleFunc("/location", findLocation).Methods("GET")
	userRouter.HandleFunc("/location", updateLocation).Methods("PUT")
	userRouter.HandleFunc("/location", stopLocation).Methods("DELETE")
	userRouter.HandleFunc("/watching", fetchWatchList).Methods("GET")
	userRouter.HandleFunc("/live", liveConnection).Methods("GET")

	userRouter.HandleFunc("/sos", fetchSosAlerts).Methods("GET")
	userRouter.HandleFunc("/sos", triggerSos).Methods("POST")
	userRouter.HandleFunc("/sos/countdown", startSosCountdown).Methods("POST")
	userRouter.HandleFunc("/sos/{id:[0-9]+}", findSosAlert).Methods("GET")
	userRouter.HandleFunc("/sos/{id:[0-9]+}/cancel", cancelSos).Methods("PUT")
	userRouter.HandleFunc("/sos/{id:[0-9]+}/resolve", resolveSos).Methods("PUT")

	userRouter.HandleFunc("/fake-call", findFakeCallSetting).Methods("GET")
	userRouter.HandleFunc("/fake-call", updateFakeCallSetting).Methods("PUT")
	userRouter.HandleFunc("/fake-call/schedule", scheduleFakeCall).Methods("POST")

	return router
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func applyModelSettings(config shared.SafelineConfig) {
	if config.Phone.DefaultCountryCode != "" {
		models.DefaultCountryCode = config.Phone.DefaultCountryCode
	}

	if config.Invitations.ExpiryInHours > 0 {
		models.InvitationExpiry = time.Duration(config.Invitations.ExpiryInHours) * time.Hour
	}

	models.MaxInvitationResends = config.Invitations.MaxResends
}

// loadKeyPair parses the signing key. In dev mode, without a key, a new one is
// generated on every start.
func loadKeyPair(privateKeyPem string, devMode bool) (*key.KeyPair, error) {
	if privateKeyPem != "" {
		return key.NewKeyPairFromRSAPrivateKeyPem(privateKeyPem)
	}

	if !devMode {
		return nil, fmt.Errorf("safeline.privateKeyPem is required outside dev mode")
	}

	logg.Warn("no privateKeyPem configured, generating a throwaway signing key")
	return key.GenerateKeyPair(2048)
}

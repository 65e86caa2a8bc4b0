package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wakabalab/eikaiwa/backend/internal/config"
	"github.com/wakabalab/eikaiwa/backend/internal/handler"
	speechHandler "github.com/wakabalab/eikaiwa/backend/internal/handler/speech"
	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	speechModel "github.com/wakabalab/eikaiwa/backend/internal/model/speech"
	"github.com/wakabalab/eikaiwa/backend/internal/service/ai"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
	"github.com/wakabalab/eikaiwa/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	convService := conversation.NewService()

	// The language model is the one capability the service cannot run
	// without; missing credentials halt startup.
	if !cfg.AI.Enabled() {
		log.Fatal("language model credentials missing: set ARK_API_KEY (or AK/SK) and Model")
	}
	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	log.Println("AI service initialized successfully")

	// Voice is optional: without credentials the service degrades to
	// text-only.
	var speechService *speech.Service
	var voiceBridge conversation.VoiceBridge
	if cfg.Speech.Enabled {
		speechService = speech.NewService(&speechModel.Config{
			APIKey:        cfg.Speech.APIKey,
			BaseURL:       cfg.Speech.BaseURL,
			ASRModel:      cfg.Speech.ASRModel,
			ASRLanguage:   cfg.Speech.ASRLanguage,
			TTSModel:      cfg.Speech.TTSModel,
			TTSVoice:      cfg.Speech.TTSVoice,
			TTSSpeed:      cfg.Speech.TTSSpeed,
			TTSFormat:     cfg.Speech.TTSFormat,
			TrimEnabled:   cfg.Speech.TrimEnabled,
			SilenceFloor:  cfg.Speech.SilenceFloor,
			MinSilenceMs:  cfg.Speech.MinSilenceMs,
			TimeoutSecond: cfg.Speech.Timeout,
		})
		voiceBridge = speech.NewBridge(speechService)
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("speech credentials not configured, voice features disabled")
	}

	controller := conversation.NewController(convService, personaStore, aiService, voiceBridge)

	var speechSvcForRouter speechHandler.SpeechService
	if speechService != nil {
		speechSvcForRouter = speechService
	}
	router := handler.NewRouter(personaStore, convService, controller, speechSvcForRouter)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Eikaiwa backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vigilant-go/internal/acoustic"
	"vigilant-go/internal/api"
	"vigilant-go/internal/archive"
	"vigilant-go/internal/config"
	"vigilant-go/internal/logger"
	"vigilant-go/internal/metrics"
	"vigilant-go/internal/notify"
	"vigilant-go/internal/pipeline"
	"vigilant-go/internal/policy"
	"vigilant-go/internal/reasoning"
	"vigilant-go/internal/retry"
	"vigilant-go/internal/settings"
	"vigilant-go/internal/transcription"
)

func main() {
	st := settings.Load() // loads .env

	log := logger.New()
	log.WithField("service", "vigilant-go").Info("starting service")
	metrics.Init()

	defaults, err := config.LoadDefault(st.DefaultConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load default client config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := buildClauseStore(ctx, st, log)

	var ac acoustic.Analyzer = acoustic.NewClient(st.AcousticURL, log.Component("acoustic"))
	if st.MockAcoustic {
		ac = acoustic.Mock{}
	}
	var tr transcription.Transcriber = transcription.NewClient(st.TranscribeURL, log.Component("transcription"))
	if st.MockTranscribe {
		tr = transcription.Mock{}
	}
	var model reasoning.Model = reasoning.NewGatewayClient(st.LLMGatewayURL, st.LLMAPIKey, st.LLMModel, log.Component("llm"))
	if st.MockLLM {
		model = reasoning.Mock{}
	}
	caller := retry.New("llm", st.RetryMaxAttempts, st.RetryFallbackWait, log.Component("retry"))
	rs := reasoning.New(model, caller, log.Component("reasoning"))

	orch := pipeline.New(ac, tr, store, rs, defaults, log.Entry)
	orch.UTCOffset = st.UTCOffset
	orch.K = st.RetrievalK
	orch.Concurrency = st.RetrievalConcurrency

	log.WithField("mock_acoustic", st.MockAcoustic).
		WithField("mock_transcribe", st.MockTranscribe).
		WithField("mock_llm", st.MockLLM).
		WithField("mock_embeddings", st.MockEmbeddings).
		WithField("utc_offset", st.UTCOffset.String()).
		Info("pipeline configured")

	var opts []api.Option
	if st.ArchiveDBPath != "" {
		if err := ensureDir(st.ArchiveDBPath); err != nil {
			log.WithError(err).Fatal("failed to prepare archive directory")
		}
		reports, err := archive.Open(st.ArchiveDBPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open report archive")
		}
		defer reports.Close()
		opts = append(opts, api.WithReports(reports), api.WithSink("archive", reports.Save))
	}
	if st.NatsURL != "" {
		pub, err := notify.Connect(st.NatsURL, st.NatsToken, st.NatsSubject, log.Entry)
		if err != nil {
			log.WithError(err).Warn("nats unavailable, audit notifications disabled")
		} else {
			defer pub.Close()
			opts = append(opts, api.WithSink("notify", pub.Publish))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", st.Port),
		Handler:      api.NewServer(orch, defaults, log, opts...).Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown incomplete")
		}
	}()

	log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}

// buildClauseStore loads the policy catalogue and embeds it once. When the
// index cannot be built the service still starts; retrieval then fails with
// StoreUnavailable.
func buildClauseStore(ctx context.Context, st settings.Settings, log *logger.Logger) policy.Store {
	plog := log.Component("clause_store")

	clauses, err := policy.ParseDir(st.PoliciesDir, plog)
	if err != nil {
		plog.WithError(err).Error("policy catalogue unavailable")
		return policy.Unavailable(nil, err)
	}

	var emb policy.Embedder = policy.NewHTTPEmbedder(st.EmbeddingsURL, st.LLMAPIKey, st.EmbeddingsModel)
	if st.MockEmbeddings {
		emb = policy.NewHashEmbedder()
	}

	var cache *policy.Cache
	if st.CacheDBPath != "" {
		if err := ensureDir(st.CacheDBPath); err == nil {
			cache, err = policy.OpenCache(st.CacheDBPath)
			if err != nil {
				plog.WithError(err).Warn("embedding cache disabled")
			}
		}
	}
	if cache != nil {
		defer cache.Close()
	}

	buildCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	idx, err := policy.Build(buildCtx, clauses, emb, cache, plog)
	if err != nil {
		plog.WithError(err).Error("clause index build failed")
		return policy.Unavailable(clauses, err)
	}
	plog.WithField("clauses", len(clauses)).WithField("model", emb.Model()).Info("clause index ready")
	return idx
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

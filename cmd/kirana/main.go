package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kiranatap/kirana/internal/automation"
	"github.com/kiranatap/kirana/internal/gateway"
	"github.com/kiranatap/kirana/internal/observability"
	"github.com/kiranatap/kirana/internal/orchestrator"
	"github.com/kiranatap/kirana/internal/order"
	"github.com/kiranatap/kirana/internal/parser"
	"github.com/kiranatap/kirana/pkg/config"
)

// logSink mirrors order lifecycle events into the structured log, and on a
// terminal event flushes the order's stage trail to the audit file.
type logSink struct {
	logger   *observability.Logger
	registry *order.Registry
}

func (s *logSink) Push(orderID string, status order.Status, message string) {
	s.logger.LogOrder(orderID, string(status), message)
	if !status.Terminal() {
		return
	}
	ord, ok := s.registry.Get(orderID)
	if !ok {
		return
	}
	for _, r := range ord.Stages {
		s.logger.LogStage(orderID, r.Stage, r.Success, r.Message)
	}
}

// browserEvents feeds session and locator events from the automation layer
// into the structured log, and tracks whether a run is parked waiting for a
// manual login so the dashboard can show it.
type browserEvents struct {
	logger    *observability.Logger
	loginWait atomic.Bool
}

func (e *browserEvents) LogSession(event, detail string) {
	switch event {
	case "login-wait":
		e.loginWait.Store(true)
	case "login-detected", "login-timeout":
		e.loginWait.Store(false)
	}
	e.logger.LogSession(event, detail)
}

func (e *browserEvents) LogLocator(element, selector string, index int) {
	e.logger.LogLocator(element, selector, index)
}

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")
	logger := observability.NewLogger()
	events := &browserEvents{logger: logger}

	catalog, err := automation.LoadCatalog(cfg.Selectors.Path)
	if err != nil {
		log.Fatal(err)
	}

	// Parse with the first enabled LLM provider; without one, the pattern
	// fallback still understands plain "2 litres of milk" style requests.
	var itemParser parser.Parser = parser.NewFallbackParser()
	if pName, pCfg := cfg.GetDefaultProvider(); pName != "" {
		switch pName {
		case "openai", "openrouter":
			opts := []openai.Option{
				openai.WithToken(pCfg.APIKey),
				openai.WithModel(pCfg.Model),
			}
			if pCfg.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
			}
			llm, err := openai.New(opts...)
			if err != nil {
				log.Fatal(err)
			}
			llmParser := parser.NewLLMParser(llm)
			llmParser.Events = logger
			itemParser = llmParser
		default:
			log.Fatalf("Provider %s not yet implemented in main", pName)
		}
	} else {
		log.Printf("no LLM provider enabled, using pattern-based parsing only")
	}

	manager := automation.NewSessionManager(
		cfg.Browser.ProfileDir,
		cfg.Browser.Headless,
		cfg.Browser.UserAgent,
		cfg.Browser.BaseURL,
		cfg.Browser.EphemeralFallback,
		catalog,
	)
	manager.Events = events
	runner := orchestrator.NewBrowserRunner(manager, cfg.Browser.BaseURL,
		cfg.Browser.ProfilePolicy == config.ProfileIsolated,
		automation.WithEvents(events))

	registry := order.NewRegistry()

	sinks := &gateway.FanOut{}
	sinks.Add(&logSink{logger: logger, registry: registry})

	orch := orchestrator.New(registry, runner, sinks, cfg.Browser.ProfilePolicy)
	svc := gateway.NewService(itemParser, registry, orch)

	hub := gateway.NewHub(svc)
	sinks.Add(hub)

	var messengers []gateway.Messenger
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, svc)
		if err != nil {
			log.Fatal(err)
		}
		sinks.Add(tg)
		messengers = append(messengers, tg)
	}
	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, svc)
		if err != nil {
			log.Fatal(err)
		}
		sinks.Add(dc)
		messengers = append(messengers, dc)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: gateway.NewServer(svc, hub).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, m := range messengers {
		m := m
		go func() {
			if err := m.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}()
	}

	go func() {
		logger.LogGateway("http", "listening on "+cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("\033[91m[ FAIL ] HTTP SERVER ERROR: %v\033[0m", err)
			stop()
		}
	}()

	// Start Live Resource Dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := orch.ActiveCount()
				switch {
				case events.loginWait.Load():
					observability.SetStatus(observability.PhaseWaiting, "waiting for manual login", n)
				case n > 0:
					observability.SetStatus(observability.PhaseOrdering, "placing orders", n)
				default:
					observability.SetStatus(observability.PhaseIdle, "", 0)
				}
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Stop taking new work, then let in-flight orders finish: a submitted
	// payment is never abandoned mid-run.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	for _, m := range messengers {
		_ = m.Stop()
	}
	hub.Close()
	orch.Wait()

	// Reset terminal aesthetics
	observability.CleanupTerminal()

	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] ALL ORDERS SETTLED. GOODBYE.\033[0m")
}

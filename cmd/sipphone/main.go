// Команда sipphone: софтфон с одной линией, управляемый командами из stdin.
//
//	sipphone -config phone.yaml -engine sip
//
// В режиме -engine mock сетевых операций нет, события удаленной стороны
// доставляются командой sim.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/sip_provider/pkg/config"
	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/engine/mockengine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
	"github.com/arzzra/sip_provider/pkg/provider"
	"github.com/arzzra/sip_provider/pkg/sip_engine"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Путь к YAML конфигурации")
		engineKind  = flag.String("engine", "sip", "Движок сессий: sip или mock")
		metricsAddr = flag.String("metrics", "", "Адрес HTTP сервера /metrics (перекрывает конфигурацию)")
		debug       = flag.Bool("debug", false, "Вывод SIP сообщений")
	)
	flag.Parse()

	if *debug {
		sip.SIPDebug = true
	}

	if err := run(*configPath, *engineKind, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "sipphone: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, engineKind, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}
	log := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		factory engine.Factory
		sim     *simulator
	)
	switch engineKind {
	case "sip":
		f, err := sip_engine.NewFactory(cfg.Engine, log.WithComponent("sip"))
		if err != nil {
			return fmt.Errorf("движок: %w", err)
		}
		factory = f
	case "mock":
		f := mockengine.NewFactory()
		factory = f
		sim = &simulator{factory: f}
	default:
		return fmt.Errorf("неизвестный движок %q", engineKind)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := provider.NewMetrics(registry, cfg.ProviderMetrics())

	directory := media.NewStaticDirectory(devices(cfg)...)
	sink := media.NewMemorySink(directory)

	out := os.Stdout
	p, err := provider.New(provider.Options{
		Factory:   factory,
		Directory: directory,
		Sink:      sink,
		Capturer:  &media.SilenceCapturer{Directory: directory},
		Logger:    log,
		Metrics:   metrics,
		OnStateChange: func(s provider.Snapshot) {
			log.Debug(context.Background(), "состояние линии",
				logger.String("registration", s.Registration.String()),
				logger.String("call", s.Call.String()),
				logger.Uint64("generation", s.Generation))
		},
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.LogError(ctx, err, "сервер метрик остановлен")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info(ctx, "метрики доступны", logger.String("addr", cfg.Metrics.Listen))
	}

	if err := p.Configure(ctx, cfg.Provider); err != nil {
		return err
	}
	if !cfg.Provider.Complete() {
		log.Warn(ctx, "не заданы host, port или user: линия не подключена")
	}

	sh := newShell(p, sink, sim, out)
	fmt.Fprintln(out, "sipphone: введите help для списка команд")
	return loop(ctx, sh, os.Stdin, out)
}

// loop читает команды до EOF, quit или отмены ctx
func loop(ctx context.Context, sh *shell, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			err := sh.exec(ctx, text)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "ошибка: %v\n", err)
			}
		}
	}
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// devices устройства из конфигурации линии. Устройство default есть
// всегда.
func devices(cfg config.Config) []media.DeviceInfo {
	var out []media.DeviceInfo
	if id := cfg.Provider.InboundAudioDeviceID; id != "" && id != media.DefaultDeviceID {
		out = append(out, media.DeviceInfo{ID: id, Kind: media.DeviceKindAudioInput, Label: id})
	}
	if id := cfg.Provider.OutboundAudioDeviceID; id != "" && id != media.DefaultDeviceID {
		out = append(out, media.DeviceInfo{ID: id, Kind: media.DeviceKindAudioOutput, Label: id})
	}
	return out
}

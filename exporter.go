package main

import (
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v6"
	"github.com/m-mizutani/erspanx/pkg/erspan"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var errSourceTimeout = errors.New("no frame within poll timeout")

// awsEnv is read from environment variables for the s3 recorder.
type awsEnv struct {
	Region     string `env:"ERSPANX_AWS_REGION"`
	S3Bucket   string `env:"ERSPANX_AWS_S3_BUCKET"`
	S3Prefix   string `env:"ERSPANX_AWS_S3_PREFIX"`
	AddTimeKey bool   `env:"ERSPANX_AWS_S3_ADD_TIME_KEY"`
	FlushCount int    `env:"ERSPANX_AWS_S3_FLUSH_COUNT"`
}

type relayStats struct {
	Frames int
	Failed int
}

func loadDocument(opts options) (*erspan.Document, error) {
	switch {
	case opts.ConfigPath != "" && opts.ProtoConfig != "":
		return nil, errors.New("Specify either --config or --proto-config, not both")
	case opts.ConfigPath != "":
		return erspan.LoadDocument(opts.ConfigPath)
	case opts.ProtoConfig != "":
		return erspan.ParseDocument([]byte(opts.ProtoConfig))
	default:
		return nil, errors.New("Either --config or --proto-config is required")
	}
}

func newRecorder(opts options) (erspan.Recorder, error) {
	if opts.Record == "" {
		return nil, nil
	}

	var cfg awsEnv
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "Fail to parse AWS settings in environment variables")
	}

	return erspan.NewRecorder(erspan.RecorderArguments{
		Emitter:         opts.Record,
		FsDirPath:       opts.RecordDir,
		FsFileName:      opts.RecordFile,
		AwsRegion:       cfg.Region,
		AwsS3Bucket:     cfg.S3Bucket,
		AwsS3Prefix:     cfg.S3Prefix,
		AwsS3AddTimeKey: cfg.AddTimeKey,
		AwsS3FlushCount: cfg.FlushCount,
	})
}

func openSource(opts options) (frameSource, error) {
	switch {
	case opts.ReadFile != "" && opts.Interface != "":
		return nil, errors.New("Specify either --read or --interface, not both")
	case opts.ReadFile != "":
		return openFileSource(opts.ReadFile)
	case opts.Interface != "":
		return openLiveSource(opts.Interface)
	default:
		return nil, errors.New("Either --read or --interface is required")
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.WithField("addr", addr).Info("Serving prometheus metrics")
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}

func run(opts options) error {
	if err := setupLogger(opts.LogLevel, opts.LogFile); err != nil {
		return err
	}

	doc, err := loadDocument(opts)
	if err != nil {
		return err
	}

	src, err := openSource(opts)
	if err != nil {
		return err
	}
	defer src.Close()

	recorder, err := newRecorder(opts)
	if err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		serveMetrics(opts.MetricsAddr)
	}

	enc, err := erspan.NewEncapsulator(doc.Name, erspan.Arguments{
		RetryLimit: opts.RetryLimit,
		Recorder:   recorder,
	})
	if err != nil {
		if recorder != nil {
			recorder.Close()
		}
		return err
	}
	defer func() {
		if err := enc.Terminate(); err != nil {
			logger.WithError(err).Error("Fail to terminate encapsulator")
		}
	}()

	if err := enc.Configure(doc); err != nil {
		return errors.Wrap(err, "Fail to initialize encapsulator")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stats, err := relay(enc, src, opts.Count, sigCh)
	if shutdownErr := enc.Shutdown(); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("Fail to close sockets")
	}

	logger.WithFields(logrus.Fields{
		"frames": stats.Frames,
		"failed": stats.Failed,
	}).Info("Exit")

	return err
}

// relay feeds frames from src to enc until the source is drained, count
// frames were exported or a signal arrives. Export errors are logged and
// counted; they never stop the loop.
func relay(enc erspan.Encapsulator, src frameSource, count int, sigCh <-chan os.Signal) (*relayStats, error) {
	stats := &relayStats{}

	for count <= 0 || stats.Frames < count {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig).Info("Caught signal, shutting down")
			return stats, nil
		default:
		}

		data, ci, err := src.ReadPacketData()
		if err == errSourceTimeout {
			continue
		}
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, errors.Wrap(err, "Fail to read frame")
		}

		stats.Frames++
		if err := enc.Export(ci, data); err != nil {
			stats.Failed++
			logger.WithError(err).WithField("frame", stats.Frames).Warn("Fail to export frame")
		}
	}

	return stats, nil
}

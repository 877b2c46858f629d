package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Brownie44l1/realfake-api/internal/config"
	"github.com/Brownie44l1/realfake-api/internal/middleware"
	"github.com/Brownie44l1/realfake-api/internal/model"
	"github.com/Brownie44l1/realfake-api/pkg/log"
	"github.com/Brownie44l1/realfake-api/pkg/s3"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.NewLogger(log.Options{Level: "info"})
		log.Fatal(log.Fields{"error": err.Error()}, "Error loading configuration")
	}

	logger := log.NewLogger(log.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, Env: cfg.Env})

	root := projectRoot()
	modelPath := resolve(root, cfg.ModelPath)
	metadataPath := resolve(root, cfg.MetadataPath)

	log.Debug(log.Fields{
		"root":     root,
		"model":    modelPath,
		"metadata": metadataPath,
	}, "Resolved artifact paths")

	if cfg.ModelS3Bucket != "" {
		if err := fetchArtifact(cfg, modelPath); err != nil {
			log.Fatal(log.Fields{"error": err.Error()}, "Failed to fetch model artifact")
		}
	}

	logger.Infof("Loading model from: %s", modelPath)

	modelServer, err := model.NewServer(model.ServerConfig{
		ModelPath:         modelPath,
		MetadataPath:      metadataPath,
		SharedLibraryPath: cfg.OnnxRuntimeLib,
		MaxImagePixels:    cfg.MaxImagePixels,
	})
	if err != nil {
		log.Fatal(log.Fields{"error": err.Error()}, "Failed to initialize model server")
	}
	defer modelServer.Close()

	server, err := config.NewServer(
		config.WithConfig(cfg),
		config.WithLogger(logger),
		config.WithFiber(config.NewFiber(cfg)),
		config.WithMiddleware(middleware.New(logger, middleware.Options{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		})),
		config.WithPredictor(modelServer),
	)
	if err != nil {
		log.Fatal(log.Fields{"error": err.Error()}, "Failed to build server")
	}

	server.RegisterHandler()

	logger.WithFields(log.Fields{
		"model":      modelPath,
		"classes":    modelServer.Metadata.Classes,
		"image_size": modelServer.Metadata.ImageSize,
	}).Info("Model loaded")
	logger.Info("Endpoints: GET /health, POST /predict (multipart field 'file')")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Server failed: %v", err)
		}
	case <-sigChan:
		logger.Info("Shutting down server...")
		if err := server.Shutdown(); err != nil {
			logger.Errorf("Error during shutdown: %v", err)
		}
	}
}

// projectRoot is the working directory, or the repository root when started
// from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "../..")
	}
	return wd
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func fetchArtifact(cfg *config.Config, dest string) error {
	client, err := s3.New(s3.Options{
		Region:          cfg.AWSRegion,
		Bucket:          cfg.ModelS3Bucket,
		Endpoint:        cfg.ModelS3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := client.DownloadFile(ctx, cfg.ModelS3Key, dest)
	if err != nil {
		return err
	}

	log.Info(log.Fields{
		"bucket": cfg.ModelS3Bucket,
		"key":    cfg.ModelS3Key,
		"bytes":  n,
	}, "Model artifact downloaded")
	return nil
}

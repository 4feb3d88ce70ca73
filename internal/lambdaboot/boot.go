// Package lambdaboot holds the cold-start wiring shared by the Lambda and the
// CLI: AWS config, S3 store, ffmpeg, optional ledger, and the handler that
// ties them together. Everything is built once per process and injected.
package lambdaboot

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/video-thumbnailer/internal/filehandler"
	"github.com/fpang/video-thumbnailer/internal/logging"
	"github.com/fpang/video-thumbnailer/internal/s3util"
	"github.com/fpang/video-thumbnailer/internal/store"
	"github.com/fpang/video-thumbnailer/internal/thumbnail"
)

// Environment variables read at cold start.
const (
	EnvTableName        = "THUMBNAIL_TABLE_NAME"
	EnvMetricsNamespace = "METRICS_NAMESPACE"
	EnvTempDir          = "THUMBNAIL_TMP_DIR"

	DefaultMetricsNamespace = "VideoThumbnailer"
)

// Config is the environment-derived configuration.
type Config struct {
	TableName        string
	MetricsNamespace string
	TempDir          string
}

// LoadConfig reads Config from the environment. METRICS_NAMESPACE set to "-"
// disables metrics.
func LoadConfig() Config {
	cfg := Config{
		TableName:        os.Getenv(EnvTableName),
		MetricsNamespace: logging.EnvOrDefault(EnvMetricsNamespace, DefaultMetricsNamespace),
		TempDir:          logging.EnvOrDefault(EnvTempDir, os.TempDir()),
	}
	if cfg.MetricsNamespace == "-" {
		cfg.MetricsNamespace = ""
	}
	return cfg
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS() aws.Config {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg
}

// InitS3 creates the S3-backed object store.
func InitS3(cfg aws.Config) *s3util.Store {
	return s3util.NewStore(s3.NewFromConfig(cfg))
}

// InitLedgerOptional creates the DynamoDB thumbnail ledger if tableName is
// set. Returns nil (with a debug log) otherwise.
func InitLedgerOptional(cfg aws.Config, tableName string) *store.ThumbnailStore {
	if tableName == "" {
		log.Debug().Str("envVar", EnvTableName).Msg("Thumbnail table not set, ledger disabled")
		return nil
	}
	return store.NewThumbnailStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitExtractor resolves ffmpeg. Fatals if no binary is available, since the
// process cannot do anything useful without it.
func InitExtractor() *filehandler.FFmpegExtractor {
	if err := filehandler.CheckFFmpegAvailable(); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}
	e, err := filehandler.NewFFmpegExtractor()
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}
	return e
}

// InitTempDir makes sure the scratch directory exists. Fatals on error.
func InitTempDir(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create scratch directory")
	}
}

// NewHandler assembles a thumbnail.Handler from initialized parts. A nil
// ledger leaves the handler without one.
func NewHandler(objects thumbnail.ObjectStore, extractor thumbnail.FrameExtractor, ledger *store.ThumbnailStore, cfg Config) *thumbnail.Handler {
	h := thumbnail.NewHandler(objects, extractor)
	h.TempDir = cfg.TempDir
	h.MetricsNamespace = cfg.MetricsNamespace
	if ledger != nil {
		h.Ledger = ledger
	}
	return h
}

// StartupLog builds the cold-start summary for a process. extractor and
// ledger may be nil.
func StartupLog(name string, cfg Config, extractor *filehandler.FFmpegExtractor, ledger *store.ThumbnailStore) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		Config("tempDir", cfg.TempDir).
		Feature("ffmpeg", filehandler.IsFFmpegAvailable()).
		Feature("ledger", ledger != nil).
		Feature("metrics", cfg.MetricsNamespace != "")
	if extractor != nil {
		sl.Config("ffmpegPath", extractor.Path)
	}
	if ledger != nil {
		sl.DynamoTable("thumbnails", ledger.TableName())
	}
	if cfg.MetricsNamespace != "" {
		sl.Config("metricsNamespace", cfg.MetricsNamespace)
	}
	return sl
}

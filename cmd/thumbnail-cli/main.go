// Command thumbnail-cli runs the video thumbnail pipeline outside Lambda.
//
// It is meant for operators: backfilling thumbnails for videos uploaded before
// the trigger existed, reproducing a failed invocation, or checking what the
// ledger recorded for an object.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/video-thumbnailer/internal/filehandler"
	"github.com/fpang/video-thumbnailer/internal/lambdaboot"
	"github.com/fpang/video-thumbnailer/internal/logging"
	"github.com/fpang/video-thumbnailer/internal/thumbnail"
)

// CLI flags
var (
	bucketFlag      string
	keyFlag         string
	contentTypeFlag string
	inputFlag       string
	outputDirFlag   string
	tableFlag       string
)

var rootCmd = &cobra.Command{
	Use:   "thumbnail-cli",
	Short: "Generate and inspect video thumbnails",
	Long: `thumbnail-cli runs the same pipeline as the thumbnail Lambda: download a video
from S3, extract a 320px-wide JPEG two seconds in with ffmpeg, and upload it next
to the source as {name}_thumb.jpg.

Examples:
  thumbnail-cli run --bucket media --key videos/clip.mp4
  thumbnail-cli run -b media -k videos/clip.mp4 --content-type video/mp4
  thumbnail-cli extract --input ./clip.mp4 --output-dir ./out
  thumbnail-cli status -b media -k videos/clip.mp4 --table video-thumbnails`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate the thumbnail for one S3 object",
	RunE:  runThumbnail,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a thumbnail from a local video without touching S3",
	RunE:  runExtract,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger record for an S3 object",
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, statusCmd} {
		c.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "S3 bucket of the source video")
		c.Flags().StringVarP(&keyFlag, "key", "k", "", "Object key of the source video")
		c.MarkFlagRequired("bucket")
		c.MarkFlagRequired("key")
	}
	runCmd.Flags().StringVar(&contentTypeFlag, "content-type", "", "Content type to assume (default: read from S3)")
	statusCmd.Flags().StringVar(&tableFlag, "table", os.Getenv(lambdaboot.EnvTableName), "DynamoDB thumbnail table")

	extractCmd.Flags().StringVarP(&inputFlag, "input", "i", "", "Local video file")
	extractCmd.Flags().StringVarP(&outputDirFlag, "output-dir", "o", ".", "Directory for the thumbnail")
	extractCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(runCmd, extractCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := lambdaboot.LoadConfig()
	// EMF lines are for CloudWatch; keep the terminal readable.
	cfg.MetricsNamespace = ""

	awsCfg := lambdaboot.InitAWS()
	objects := lambdaboot.InitS3(awsCfg)
	extractor, err := filehandler.NewFFmpegExtractor()
	if err != nil {
		return err
	}
	ledger := lambdaboot.InitLedgerOptional(awsCfg, cfg.TableName)
	lambdaboot.InitTempDir(cfg.TempDir)
	h := lambdaboot.NewHandler(objects, extractor, ledger, cfg)
	lambdaboot.StartupLog("thumbnail-cli", cfg, extractor, ledger).
		S3Bucket("source", bucketFlag).
		Log()

	contentType := contentTypeFlag
	if contentType == "" {
		contentType, err = objects.ContentType(ctx, bucketFlag, keyFlag)
		if err != nil {
			return err
		}
		log.Debug().Str("contentType", contentType).Msg("Content type read from S3")
	}

	res, err := h.Handle(ctx, thumbnail.UploadEvent{
		Bucket:      bucketFlag,
		Name:        keyFlag,
		ContentType: contentType,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	extractor, err := filehandler.NewFFmpegExtractor()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDirFlag, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	out := filepath.Join(outputDirFlag, thumbnail.ThumbnailFileName(filepath.ToSlash(inputFlag)))
	if err := extractor.ExtractFrame(ctx, inputFlag, out, filehandler.DefaultFrameOptions()); err != nil {
		return err
	}
	w, h, err := filehandler.ThumbnailDimensions(out)
	if err != nil {
		return err
	}
	log.Info().Str("output", out).Int("width", w).Int("height", h).Msg("Thumbnail written")
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if tableFlag == "" {
		return fmt.Errorf("--table or %s is required", lambdaboot.EnvTableName)
	}
	awsCfg := lambdaboot.InitAWS()
	ledger := lambdaboot.InitLedgerOptional(awsCfg, tableFlag)

	rec, err := ledger.GetThumbnail(cmd.Context(), bucketFlag, keyFlag)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no thumbnail recorded for s3://%s/%s", bucketFlag, keyFlag)
	}
	return printJSON(cmd, rec)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

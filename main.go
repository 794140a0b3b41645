package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urbanfabric/fartiles/fartiles"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	Build struct {
		Input       string  `required:"" help:"Input GeoJSON FeatureCollection path." type:"existingfile"`
		Output      string  `required:"" help:"Output archive path." type:"path"`
		Layer       string  `default:"buildings" help:"Layer name."`
		Minzoom     uint8   `default:"12" help:"Minimum zoom level, inclusive."`
		Maxzoom     uint8   `default:"13" help:"Maximum zoom level, inclusive."`
		PromoteID   string  `default:"parcel_id" help:"Property promoted to the feature id."`
		Extent      uint32  `default:"4096" help:"Tile coordinate extent."`
		Buffer      uint32  `default:"32" help:"Tile clip buffer in extent units."`
		Tolerance   float64 `default:"1.0" help:"Simplification tolerance in extent units."`
		Name        string  `help:"Archive name recorded in metadata, defaults to the output basename."`
		Description string  `help:"Archive description recorded in metadata."`
		NoCompress  bool    `help:"Store tile payloads uncompressed."`
		Quiet       bool    `help:"Suppress progress bars."`
	} `cmd:"" help:"Build a tile archive from a GeoJSON feature collection."`

	Show struct {
		Path string `arg:"" help:"Local or remote archive."`
	} `cmd:"" help:"Inspect an archive's header and metadata."`

	Tile struct {
		Path string `arg:"" help:"Local or remote archive."`
		Z    uint8  `arg:""`
		X    uint32 `arg:""`
		Y    uint32 `arg:""`
		Raw  bool   `help:"Write the raw decompressed payload to stdout."`
	} `cmd:"" help:"Fetch one tile and print a feature sample."`

	Serve struct {
		Archives []string `arg:"" help:"Archive paths to serve, each under its base name."`
		Port     int      `default:"8080"`
		Cors     string   `help:"Comma-separated list of allowed CORS origins."`
	} `cmd:"" help:"Serve Z/X/Y tiles over HTTP."`

	Convert struct {
		Input  string `arg:"" help:"Input MBTiles database." type:"existingfile"`
		Output string `arg:"" help:"Output archive path." type:"path"`
		Quiet  bool   `help:"Suppress progress bars."`
	} `cmd:"" help:"Convert an MBTiles database to a tile archive."`

	Version struct{} `cmd:"" help:"Show the program version."`
}

func main() {
	if len(os.Args) < 2 {
		os.Args = append(os.Args, "--help")
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := kong.Parse(&cli)

	switch ctx.Command() {
	case "build":
		runBuild(logger)
	case "show <path>":
		if err := fartiles.Show(context.Background(), os.Stdout, cli.Show.Path); err != nil {
			logger.Fatal("failed to show archive", zap.Error(err))
		}
	case "tile <path> <z> <x> <y>":
		err := fartiles.ShowTile(context.Background(), os.Stdout, cli.Tile.Path,
			cli.Tile.Z, cli.Tile.X, cli.Tile.Y, cli.Tile.Raw, 20)
		if err != nil {
			logger.Fatal("failed to fetch tile", zap.Error(err))
		}
	case "serve <archives>":
		runServe(logger)
	case "convert <input> <output>":
		err := fartiles.Convert(logger, cli.Convert.Input, cli.Convert.Output, !cli.Convert.Quiet)
		if err != nil {
			logger.Fatal("failed to convert", zap.Error(err))
		}
	case "version":
		fmt.Printf("fartiles %s, commit %s, built at %s\n", version, commit, date)
	default:
		panic(ctx.Command())
	}
}

func runBuild(logger *zap.Logger) {
	fc, err := fartiles.LoadFeatureCollection(cli.Build.Input)
	if err != nil {
		logger.Fatal("failed to load input", zap.Error(err))
	}

	opts := fartiles.DefaultIndexOptions()
	opts.Layer = cli.Build.Layer
	opts.MinZoom = cli.Build.Minzoom
	opts.MaxZoom = cli.Build.Maxzoom
	opts.PromoteID = cli.Build.PromoteID
	opts.Extent = cli.Build.Extent
	opts.Buffer = cli.Build.Buffer
	opts.Tolerance = cli.Build.Tolerance

	ix, err := fartiles.NewIndex(fc, opts)
	if err != nil {
		logger.Fatal("failed to index features", zap.Error(err))
	}

	compression := fartiles.Gzip
	if cli.Build.NoCompress {
		compression = fartiles.NoCompression
	}
	name := cli.Build.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(cli.Build.Output), filepath.Ext(cli.Build.Output))
	}

	_, err = fartiles.Build(logger, ix, cli.Build.Output, fartiles.BuildOptions{
		Name:        name,
		Description: cli.Build.Description,
		Compression: compression,
		Progress:    !cli.Build.Quiet,
	})
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
}

func runServe(baseLogger *zap.Logger) {
	baseCtx := context.Background()
	server := fartiles.NewServer(baseLogger)
	defer server.Close()

	for _, path := range cli.Serve.Archives {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := server.OpenArchive(baseCtx, name, path); err != nil {
			baseLogger.Fatal("failed to open archive", zap.String("path", path), zap.Error(err))
		}
		baseLogger.Info("serving archive", zap.String("name", name), zap.String("path", path))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	var handler http.Handler = server.Middleware(mux)
	if cli.Serve.Cors != "" {
		handler = cors.New(cors.Options{
			AllowedOrigins: strings.Split(cli.Serve.Cors, ","),
		}).Handler(handler)
	}

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cli.Serve.Port),
		Handler: handler,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		shutdownCtx, cancel := context.WithTimeout(baseCtx, 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	baseLogger.Info("listening", zap.Int("port", cli.Serve.Port))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		baseLogger.Fatal("server failed", zap.Error(err))
	}
}

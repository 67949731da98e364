package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/oshimpathan/sharesathi/cache"
	"github.com/oshimpathan/sharesathi/internal/config"
	"github.com/oshimpathan/sharesathi/internal/jobs"
)

const cliVersion = "sharesathi-cache v0.1.0"

func main() {
	if err := runCLI(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCLI(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return nil
	}

	switch args[0] {
	case "help", "--help", "-h":
		printUsage(out)
	case "version", "--version", "-v":
		fmt.Fprintln(out, cliVersion)
	case "drivers":
		for _, name := range cache.DefaultRegistry().List() {
			fmt.Fprintln(out, name)
		}
	case "caches":
		return withStorage(ctx, func(s cache.Storage) error {
			names, err := s.Keys(ctx)
			if err != nil {
				return fmt.Errorf("list caches: %w", err)
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		})
	case "purge":
		if len(args) != 2 {
			return errors.New("usage: purge <cache-name>")
		}
		name := args[1]
		return withStorage(ctx, func(s cache.Storage) error {
			deleted, err := s.Delete(ctx, name)
			if err != nil {
				return fmt.Errorf("purge %s: %w", name, err)
			}
			if !deleted {
				return fmt.Errorf("cache %q not found", name)
			}
			fmt.Fprintf(out, "purged %s\n", name)
			return nil
		})
	case "deploy":
		if len(args) < 2 {
			return errors.New("usage: deploy <version> [asset...]")
		}
		return enqueueDeploy(ctx, out, args[1], args[2:])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: sharesathi-cache <command> [args]")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  caches                     List named caches in the configured storage")
	fmt.Fprintln(out, "  purge <name>               Delete one named cache")
	fmt.Fprintln(out, "  deploy <version> [asset..] Queue a deploy of a cache version (needs REDIS_ADDR)")
	fmt.Fprintln(out, "  drivers                    List storage drivers")
	fmt.Fprintln(out, "  help, version")
	fmt.Fprintln(out, "Environment:")
	fmt.Fprintln(out, "  CACHE_DRIVER        Storage driver (default file)")
	fmt.Fprintln(out, "  CACHE_DSN           Driver data source (directory, sqlite file, redis address, postgres URL)")
	fmt.Fprintln(out, "  CACHE_STATIC_ASSETS Default manifest for deploy (comma separated)")
	fmt.Fprintln(out, "  REDIS_ADDR          asynq broker for deploys")
}

func withStorage(ctx context.Context, fn func(cache.Storage) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s, err := cache.DefaultRegistry().Open(ctx, cfg.Cache.Driver, cfg.Cache.DSN)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck
	return fn(s)
}

func enqueueDeploy(ctx context.Context, out io.Writer, version string, assets []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.HasQueue() {
		return errors.New("deploy needs REDIS_ADDR; without a queue use POST /admin/deploy on the edge")
	}
	if len(assets) == 0 {
		assets = cfg.Cache.Assets
	}
	for _, a := range assets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("asset %q must be an absolute path", a)
		}
	}

	client := jobs.NewClient(cfg.Queue.RedisAddr, cfg.Queue.Name, cfg.Queue.MaxRetry)
	defer client.Close() //nolint:errcheck

	id, err := client.EnqueueDeploy(ctx, jobs.DeployVersionPayload{Version: version, Assets: assets})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued deploy of %s (task %s)\n", version, id)
	return nil
}

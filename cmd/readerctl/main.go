package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/blackmichael/readercache/internal/domain"
	"github.com/blackmichael/readercache/internal/observe"
	"github.com/blackmichael/readercache/internal/sqlite"
)

const usage = `usage: readerctl [-db path] [-v] <command> [flags]

commands:
  purge              run one retention pass
  reconcile          clear followed flags of blogs no longer followed
  add-stream         register a stream (-name, -type, -endpoint)
  remove-stream      unregister a stream (-name, -type)
  follow-blog        record a followed blog (-blog-id, -feed-id, -name, -url, -unfollow)
  stats              show cached post counts for a stream (-name, -type)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		dbPath       string
		maxPerStream int
		verbose      bool
	)

	global := flag.NewFlagSet("readerctl", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	global.StringVar(&dbPath, "db", envOrDefault("READER_DATABASE_PATH", "reader.db"), "SQLite database file")
	global.IntVar(&maxPerStream, "max", envIntOrDefault("READER_MAX_POSTS_PER_STREAM", domain.DefaultMaxPostsPerStream), "Maximum posts kept per stream")
	global.BoolVar(&verbose, "v", false, "Log maintenance events to stderr")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("a command is required")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	repo, err := sqlite.NewRepository(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	reader, err := domain.NewReaderService(repo, repo, repo, observe.NewLogSink(logger), logger, maxPerStream)
	if err != nil {
		return err
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "purge":
		deleted, err := reader.RunPurge(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Purged %d posts (max %d per stream)\n", deleted, reader.MaxPostsPerStream())
		return nil

	case "reconcile":
		updated, err := reader.ReconcileFollowedStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Marked %d posts unfollowed\n", updated)
		return nil

	case "add-stream", "remove-stream":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		name := fs.String("name", "", "Stream name")
		typ := fs.String("type", "followed", "Stream type (followed, default, recommended, custom_list, search)")
		endpoint := fs.String("endpoint", "", "Server path the stream is fetched from")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("--name is required")
		}
		streamType, err := domain.ParseStreamType(*typ)
		if err != nil {
			return err
		}
		stream := domain.Stream{Name: *name, Type: streamType, Endpoint: *endpoint}

		if cmd == "remove-stream" {
			if err := repo.RemoveStream(ctx, stream); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed stream %s; its posts go on the next purge\n", stream)
			return nil
		}
		if err := repo.SaveStream(ctx, stream); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved stream %s\n", stream)
		return nil

	case "follow-blog":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		blogID := fs.Int64("blog-id", 0, "Blog id")
		feedID := fs.Int64("feed-id", 0, "Feed id")
		name := fs.String("name", "", "Blog name")
		url := fs.String("url", "", "Blog URL")
		unfollow := fs.Bool("unfollow", false, "Record the blog as no longer followed")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}

		blog := sqlite.Blog{BlogID: *blogID, FeedID: *feedID, Name: *name, URL: *url, IsFollowed: !*unfollow}
		if err := repo.SaveBlog(ctx, blog); err != nil {
			return err
		}

		kind, ownerID := domain.OwnerBlog, *blogID
		if ownerID == 0 {
			kind, ownerID = domain.OwnerFeed, *feedID
		}
		if err := reader.SetFollowStatus(ctx, kind, ownerID, blog.IsFollowed); err != nil {
			return err
		}
		fmt.Fprintf(out, "Set %s %d followed=%t\n", kind, ownerID, blog.IsFollowed)
		return nil

	case "stats":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		name := fs.String("name", "", "Stream name")
		typ := fs.String("type", "followed", "Stream type")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("--name is required")
		}
		streamType, err := domain.ParseStreamType(*typ)
		if err != nil {
			return err
		}
		stream, err := reader.ResolveStream(ctx, domain.Stream{Name: *name, Type: streamType})
		if err != nil {
			return err
		}
		return printStats(ctx, out, repo, stream)

	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printStats(ctx context.Context, out io.Writer, repo *sqlite.Repository, stream domain.Stream) error {
	count, err := repo.CountInStream(ctx, stream)
	if err != nil {
		return err
	}
	content, err := repo.CountContent(ctx)
	if err != nil {
		return err
	}
	marker, err := repo.GapMarkerLocation(ctx, stream)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Stream:        %s\n", stream)
	fmt.Fprintf(out, "Sorted by:     %s\n", domain.Classify(&stream).Sort)
	fmt.Fprintf(out, "Posts:         %d\n", count)
	fmt.Fprintf(out, "Stored bodies: %d\n", content)
	if marker != nil {
		fmt.Fprintf(out, "Gap marker:    blog %d post %d\n", marker.OwnerID, marker.LocalID)
	} else {
		fmt.Fprintf(out, "Gap marker:    none\n")
	}
	if oldest, ok, err := repo.OldestSortValueInStream(ctx, stream); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(out, "Oldest sort:   %s\n", strconv.FormatFloat(oldest, 'f', -1, 64))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

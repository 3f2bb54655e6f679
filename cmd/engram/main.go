package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"engram/internal/config"
	"engram/internal/logging"
	"engram/internal/services"
)

const usage = `Usage: engram -user <id> <command> [args]

Commands:
  save <content>      store content as a memory
  get [limit]         list memories, newest first
  search <query>      search memories
  enrich <prompt>     show the context block a prompt would receive
  extract <text>      run pattern extraction over text
  say <utterance>     route an utterance through the explicit command grammar
  stats               show memory stats
  prune               drop expired memories from storage
  clear               delete all memories
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logging.Init()

	userID := flag.String("user", "", "user ID to operate on")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if *userID == "" || len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg := config.Load()

	ctx := context.Background()
	svc, err := services.NewMemoryService(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to start memory service: %v", err)
	}

	logger := logging.WithBackend(logging.WithUser(*userID), cfg.ResolveBackend())
	if err := run(ctx, svc, logger, *userID, args[0], args[1:]); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, svc *services.MemoryService, logger *slog.Logger, userID, command string, args []string) error {
	logger.Debug("running command", "command", command)

	switch command {
	case "save":
		content := strings.Join(args, " ")
		mem, err := svc.SaveMemory(ctx, userID, content, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", mem.ID)

	case "get":
		limit := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		memories, err := svc.GetUserMemories(ctx, userID, limit, nil)
		if err != nil {
			return err
		}
		for _, m := range memories {
			fmt.Printf("%s  [%s/%s]  %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Type, m.Source, m.Content)
		}

	case "search":
		results, err := svc.SearchUserMemories(ctx, userID, strings.Join(args, " "), 0, nil)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, m := range results {
			fmt.Printf("%s  %s\n", m.ID, m.Content)
		}

	case "enrich":
		result, err := svc.EnrichPromptBehindTheScenes(ctx, strings.Join(args, " "), userID)
		if err != nil {
			return err
		}
		fmt.Printf("confidence=%.2f memories=%d\n%s", result.Confidence, len(result.Memories), result.ContextBlock)

	case "extract":
		extracted, err := svc.ExtractMemories(ctx, strings.Join(args, " "), userID)
		if err != nil {
			return err
		}
		for _, m := range extracted {
			fmt.Printf("%s  %s\n", m.ID, m.Content)
		}
		fmt.Printf("extracted %d memories\n", len(extracted))

	case "say":
		result, err := svc.HandleExplicitCommand(ctx, strings.Join(args, " "), userID)
		if err != nil {
			return err
		}
		if !result.Handled {
			fmt.Println("Not a memory command.")
			return nil
		}
		fmt.Println(result.Response)

	case "stats":
		stats, err := svc.GetUserStats(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("count=%d bytes=%d lastUpdated=%s path=%s\n",
			stats.Count, stats.StorageBytes, stats.LastUpdated.Format("2006-01-02 15:04"), svc.GetUserStoragePath(userID))

	case "prune":
		if err := svc.PruneExpired(ctx, userID); err != nil {
			return err
		}
		fmt.Println("Pruned.")

	case "clear":
		if err := svc.ClearUserMemories(ctx, userID, nil); err != nil {
			return err
		}
		fmt.Println("Cleared.")

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// kbindex indexes text files into a knowledge base collection, or runs a
// one-off semantic search against one.
//
// Usage:
//
//	kbindex -kb kb_core -dir ./docs
//	kbindex -kb kb_core -search "timeout handling" -limit 5
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/vectorstore"
	"go.uber.org/zap"
)

// chunkSize is the character length of one indexed document chunk.
const chunkSize = 1000

func main() {
	_ = godotenv.Load()

	var (
		kbName  = flag.String("kb", "kb_core", "target knowledge base")
		dir     = flag.String("dir", "", "directory of text files to index")
		search  = flag.String("search", "", "run a search instead of indexing")
		limit   = flag.Int("limit", 5, "search result count")
		cfgPath = flag.String("config", "configs/loom.json", "config file path")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if !memory.KnownBase(*kbName) {
		logger.Fatal("unknown knowledge base", zap.String("kb", *kbName))
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	embedCfg := embedding.Config{
		Provider: cfg.Embedding.Provider, Endpoint: cfg.Embedding.Endpoint,
		Model: cfg.Embedding.Model, APIKey: cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	var embedder embedding.Provider
	if cfg.Embedding.Provider == "api" && cfg.Embedding.Endpoint != "" {
		embedder = embedding.NewAPIProvider(embedCfg)
	} else {
		embedder = embedding.NewLocalProvider(embedCfg)
	}

	vstore, err := vectorstore.NewClient(vectorstore.Config{
		Host: cfg.Database.Qdrant.Host, Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("qdrant connect failed", zap.Error(err))
	}
	defer vstore.Close()

	ctx := context.Background()
	if err := vstore.EnsureCollection(ctx, *kbName, uint64(embedder.Dimension())); err != nil {
		logger.Fatal("ensure collection failed", zap.Error(err))
	}

	semantic := memory.NewSemantic(vstore, embedder, events.NewHub(logger), logger)

	if *search != "" {
		runSearch(ctx, semantic, *search, *kbName, *limit, logger)
		return
	}
	if *dir == "" {
		logger.Fatal("either -dir or -search is required")
	}
	runIndex(ctx, semantic, *dir, *kbName, logger)
}

func runSearch(ctx context.Context, semantic *memory.Semantic, query, kbName string, limit int, logger *zap.Logger) {
	hits, err := semantic.Search(ctx, query, kbName, limit, nil)
	if err != nil {
		logger.Fatal("search failed", zap.Error(err))
	}
	for _, h := range hits {
		fmt.Printf("%.4f  %s\n    %s\n", h.Score, h.DocumentID, firstLine(h.ContentSnippet))
	}
	if len(hits) == 0 {
		fmt.Println("no hits")
	}
}

func runIndex(ctx context.Context, semantic *memory.Semantic, dir, kbName string, logger *zap.Logger) {
	var docs []memory.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		for i, chunk := range chunks(string(data), chunkSize) {
			docs = append(docs, memory.Document{
				ID:      uuid.New().String(),
				Content: fmt.Sprintf("[%s#%d] %s", rel, i, chunk),
			})
		}
		return nil
	})
	if err != nil {
		logger.Fatal("walk failed", zap.Error(err))
	}

	n, err := semantic.Upsert(ctx, kbName, docs)
	if err != nil {
		logger.Fatal("upsert failed", zap.Error(err))
	}
	logger.Info("Indexing complete", zap.String("kb", kbName), zap.Int("points", n))
}

// chunks splits text into fixed-size character chunks, skipping blank
// ones.
func chunks(text string, size int) []string {
	var out []string
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		chunk := strings.TrimSpace(text[:n])
		if chunk != "" {
			out = append(out, chunk)
		}
		text = text[n:]
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

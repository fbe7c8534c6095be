package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/embedding"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/indexing"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/matching"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/receipt"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/vectorindex"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receipt-manager")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		catalogPath = fs.StringLong("catalog", "products.csv", "Product catalog CSV path")
		qdrantURL   = fs.StringLong("qdrant-url", "http://localhost:6333", "Qdrant base URL")
		qdrantKey   = fs.StringLong("qdrant-key", "", "Qdrant API key (optional)")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "qwen2.5vl:7b", "Ollama vision model name")
		embedModel  = fs.StringLong("embedding-model", "bge-m3", "Ollama embedding model name")
		extractor   = fs.StringLong("extractor", "ollama", "Primary extractor: 'ollama' or 'gemini'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		groqKey     = fs.StringLong("groq-key", "", "Groq API key for the alternate extractor (or set GROQ_API_KEY env var)")
		groqModel   = fs.StringLong("groq-model", "", "Groq model name")
		matcher     = fs.StringLong("matcher", "fused", "Matching strategy: 'fused' or 'keyword'")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_MANAGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Catalog and vector index
	source := catalog.NewCSVSource(*catalogPath)
	embedder := embedding.NewClient(*ollamaURL, *embedModel)
	gateway := vectorindex.NewGateway(vectorindex.Config{
		URL:    *qdrantURL,
		APIKey: *qdrantKey,
	}, embedder)

	slog.Info("Ensuring vector collection exists...")
	if err := gateway.EnsureCollection(context.Background(), false); err != nil {
		slog.Error("Failed to prepare vector collection", "error", err)
		os.Exit(1)
	}

	runner := indexing.NewRunner(indexing.NewIndexer(source, gateway))

	// Extraction backends
	var primary extraction.Extractor
	switch *extractor {
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		ollama, err := extraction.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		primary = ollama
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		gemini, err := extraction.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		primary = gemini
	default:
		slog.Error("Invalid extractor type", "type", *extractor, "valid", "ollama or gemini")
		os.Exit(1)
	}

	var alternate extraction.Extractor
	groqAPIKey := *groqKey
	if groqAPIKey == "" {
		groqAPIKey = os.Getenv("GROQ_API_KEY")
	}
	if groqAPIKey != "" {
		slog.Info("Initializing Groq extractor...")
		groq, err := extraction.NewGroq(groqAPIKey, *groqModel)
		if err != nil {
			slog.Error("Failed to initialize Groq", "error", err)
			os.Exit(1)
		}
		alternate = groq
	}

	// Matching strategy
	var strategy matching.Strategy
	switch *matcher {
	case "fused":
		strategy = matching.NewFusedStrategy(gateway)
	case "keyword":
		strategy = matching.NewKeywordStrategy(gateway)
	default:
		slog.Error("Invalid matcher type", "type", *matcher, "valid", "fused or keyword")
		os.Exit(1)
	}

	service := receipt.NewService(primary, alternate, strategy)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, runner, source, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/roach88/wavefront/internal/knowledge"
	"github.com/roach88/wavefront/internal/store"
)

// KnowledgeOptions holds flags shared by the knowledge subcommands.
type KnowledgeOptions struct {
	*RootOptions
	DB       string
	Embedder string // "hash" | "openai"
	Dims     int
	Model    string
	BaseURL  string
}

// IndexResult is the JSON payload of knowledge index.
type IndexResult struct {
	Files  []string `json:"files"`
	Chunks int      `json:"chunks"`
	Total  int      `json:"total"`
}

// QueryResult is the JSON payload of knowledge query.
type QueryResult struct {
	Results []QueryHit `json:"results"`
}

// QueryHit is one retrieved chunk.
type QueryHit struct {
	Source   string            `json:"source"`
	Score    float64           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewKnowledgeCommand creates the knowledge command and its subcommands.
func NewKnowledgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KnowledgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Index and query a local knowledge store",
		Long: `Manage the SQLite knowledge store that flow nodes query for context.

Files are split into overlapping chunks, embedded and stored with their
metadata. Queries return the best-scoring chunks across every query text.

The hash embedder works offline. The openai embedder reads OPENAI_API_KEY.
Index and query with the same embedder settings.`,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "wavefront.db", "knowledge database path")
	cmd.PersistentFlags().StringVar(&opts.Embedder, "embedder", "hash", "embedder (hash|openai)")
	cmd.PersistentFlags().IntVar(&opts.Dims, "dims", 0, "embedding dimensions (0 = embedder default)")
	cmd.PersistentFlags().StringVar(&opts.Model, "model", "", "OpenAI embedding model")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "OpenAI-compatible API base URL")

	cmd.AddCommand(newKnowledgeIndexCommand(opts))
	cmd.AddCommand(newKnowledgeQueryCommand(opts))
	cmd.AddCommand(newKnowledgeSourcesCommand(opts))
	cmd.AddCommand(newKnowledgeResetCommand(opts))
	return cmd
}

func newKnowledgeIndexCommand(opts *KnowledgeOptions) *cobra.Command {
	var (
		preference string
		chunking   knowledge.Chunking
	)
	cmd := &cobra.Command{
		Use:           "index <file>...",
		Short:         "Add files to the knowledge store",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]knowledge.Source, len(args))
			for i, path := range args {
				src := knowledge.FileSource{Path: path, Chunking: chunking}
				if preference != "" {
					src.Metadata = map[string]string{"preference": preference}
				}
				sources[i] = src
			}

			return withKnowledge(cmd, opts, func(ctx context.Context, f *OutputFormatter, st *store.Store, k *knowledge.Knowledge) error {
				n, err := k.Add(ctx, sources...)
				if err != nil {
					return commandError(f, ErrCodeWriteFailed, err.Error())
				}
				total, err := st.Count(ctx)
				if err != nil {
					return commandError(f, ErrCodeGeneric, err.Error())
				}
				res := IndexResult{Files: args, Chunks: n, Total: total}
				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Indexed %d chunk(s) from %d file(s) (%d in store)\n", n, len(args), total)
				})
			})
		},
	}
	cmd.Flags().StringVar(&preference, "preference", "", "tag chunks with this preference")
	cmd.Flags().IntVar(&chunking.Size, "chunk-size", knowledge.DefaultChunkSize, "chunk size in characters")
	cmd.Flags().IntVar(&chunking.Overlap, "chunk-overlap", knowledge.DefaultChunkOverlap, "chunk overlap in characters")
	return cmd
}

func newKnowledgeQueryCommand(opts *KnowledgeOptions) *cobra.Command {
	var (
		limit      int
		threshold  float64
		preference string
	)
	cmd := &cobra.Command{
		Use:           "query <text>...",
		Short:         "Retrieve chunks similar to the query texts",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kopts := []knowledge.Option{knowledge.WithScoreThreshold(threshold)}
			return withKnowledge(cmd, opts, func(ctx context.Context, f *OutputFormatter, _ *store.Store, k *knowledge.Knowledge) error {
				results, err := k.Query(ctx, args, limit, knowledge.Preference(preference))
				if err != nil {
					return commandError(f, ErrCodeGeneric, err.Error())
				}
				out := QueryResult{Results: make([]QueryHit, len(results))}
				for i, r := range results {
					out.Results[i] = QueryHit{Source: r.Source, Score: r.Score, Content: r.Content, Metadata: r.Metadata}
				}
				return f.Success(out, func(w io.Writer) {
					if len(out.Results) == 0 {
						fmt.Fprintln(w, "No results.")
						return
					}
					for i, hit := range out.Results {
						fmt.Fprintf(w, "%d. %s (score %.3f)\n", i+1, hit.Source, hit.Score)
						for _, line := range strings.Split(strings.TrimSpace(hit.Content), "\n") {
							fmt.Fprintf(w, "   %s\n", line)
						}
					}
				})
			}, kopts...)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", knowledge.DefaultLimit, "maximum results")
	cmd.Flags().Float64Var(&threshold, "threshold", knowledge.DefaultScoreThreshold, "minimum similarity score")
	cmd.Flags().StringVar(&preference, "preference", "", "only return chunks tagged with this preference")
	return cmd
}

func newKnowledgeSourcesCommand(opts *KnowledgeOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sources",
		Short:         "List indexed sources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(cmd, opts, func(ctx context.Context, f *OutputFormatter, st *store.Store, _ *knowledge.Knowledge) error {
				names, err := st.Sources(ctx)
				if err != nil {
					return commandError(f, ErrCodeGeneric, err.Error())
				}
				if names == nil {
					names = []string{}
				}
				return f.Success(names, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			})
		},
	}
}

func newKnowledgeResetCommand(opts *KnowledgeOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Remove every chunk from the knowledge store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(cmd, opts, func(ctx context.Context, f *OutputFormatter, _ *store.Store, k *knowledge.Knowledge) error {
				if err := k.Reset(ctx); err != nil {
					return commandError(f, ErrCodeWriteFailed, err.Error())
				}
				return f.Success(map[string]string{"db": opts.DB}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Reset %s\n", opts.DB)
				})
			})
		},
	}
}

// withKnowledge opens the store, builds the configured embedder and calls
// fn. The store is closed when fn returns.
func withKnowledge(
	cmd *cobra.Command,
	opts *KnowledgeOptions,
	fn func(ctx context.Context, f *OutputFormatter, st *store.Store, k *knowledge.Knowledge) error,
	kopts ...knowledge.Option,
) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	emb, err := newEmbedder(opts)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error())
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return commandError(formatter, ErrCodeLoadFailed, fmt.Sprintf("open knowledge store: %v", err))
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = newLogger(opts.RootOptions, formatter.GetErrWriter())
	}
	formatter.VerboseLog("Using %s embedder with %s", opts.Embedder, opts.DB)

	k := knowledge.New(st, emb, append([]knowledge.Option{knowledge.WithLogger(logger)}, kopts...)...)
	return fn(ctx, formatter, st, k)
}

func newEmbedder(opts *KnowledgeOptions) (knowledge.Embedder, error) {
	if opts.Dims < 0 {
		return nil, fmt.Errorf("--dims must be non-negative")
	}
	switch opts.Embedder {
	case "hash":
		dims := opts.Dims
		if dims == 0 {
			dims = knowledge.DefaultHashDims
		}
		return knowledge.NewHashEmbedder(dims), nil
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		var reqOpts []option.RequestOption
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		return knowledge.NewOpenAIEmbedder(reqOpts, func(o *knowledge.OpenAIOptions) {
			if opts.Model != "" {
				o.Model = openai.EmbeddingModel(opts.Model)
			}
			o.Dimensions = int64(opts.Dims)
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q: must be hash or openai", opts.Embedder)
	}
}

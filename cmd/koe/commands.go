package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/koe/internal/cli"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/pipeline"
)

// joinArgs joins positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newEnrollCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <name> <audio>",
		Short: "Register a voice sample under a name",
		Long: `Register a voice sample under a name. Enrolling the same name again adds another
sample for that person.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.logger.Sync()
			defer p.Close()

			id, err := p.Enroll(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s (id %d)\n", id.Name, id.ID)
			return nil
		},
	}
}

func newVoicesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List enrolled voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			s, p, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.logger.Sync()
			defer p.Close()
			return cli.WriteIdentities(cmd.OutOrStdout(), p.Identities(), format)
		},
	}
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		relabel string
		outFile string
		ingest  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <audio>",
		Short: "Diarize a recording and name its speakers",
		Long: `Diarize and transcribe a recording, then replace every anonymous speaker label with
the name of the closest enrolled voice.

With --relabel, an existing transcript of the recording is relabelled instead and no
diarization runs.`,
		Example: `  koe analyze meeting.wav
  koe analyze meeting.wav --write meeting.txt --ingest
  koe analyze meeting.wav --relabel meeting.raw.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.logger.Sync()
			defer p.Close()

			var (
				text     string
				resolved *models.ResolvedTranscript
			)
			if relabel != "" {
				raw, err := os.ReadFile(relabel)
				if err != nil {
					return fmt.Errorf("read transcript: %w", err)
				}
				text, resolved, err = p.Relabel(ctx, string(raw), args[0])
				if err != nil {
					return err
				}
			} else {
				resolved, text, err = p.Analyze(ctx, args[0])
				if err != nil {
					return err
				}
			}
			cli.WriteResolutions(cmd.ErrOrStderr(), resolved.Resolutions)

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(text), 0644); err != nil {
					return fmt.Errorf("write transcript: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Transcript written to %s\n", outFile)
			} else if err := cli.WriteAnalysis(cmd.OutOrStdout(), text, resolved, format); err != nil {
				return err
			}

			if ingest {
				name := transcriptName(args[0], outFile)
				res, err := p.Ingest(ctx, text, name)
				if err != nil {
					return err
				}
				if err := p.Build(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Ingested %d chunks as %s\n", res.Added, res.Source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&relabel, "relabel", "", "relabel this existing transcript instead of diarizing")
	cmd.Flags().StringVarP(&outFile, "write", "w", "", "write the transcript to this file instead of stdout")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "add the transcript to the store and rebuild the index")
	return cmd
}

// transcriptName names an analyzed transcript after the written file or, failing that,
// after the recording.
func transcriptName(audioPath, outFile string) string {
	if outFile != "" {
		return filepath.Base(outFile)
	}
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".txt"
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-directory>...",
		Short: "Add transcripts to the store",
		Long: `Add transcripts to the store. Directories are walked recursively for the configured
watch extensions. A file already ingested with the same size and modification time is
skipped. Use --build (or koe build) to make new transcripts searchable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.logger.Sync()
			defer p.Close()

			results, err := ingestPaths(ctx, p, args, s.cfg.Watch.Extensions)
			if err != nil {
				return err
			}
			if err := cli.WriteIngestResults(cmd.OutOrStdout(), results, format); err != nil {
				return err
			}
			if build {
				return buildIndex(ctx, cmd.ErrOrStderr(), p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "rebuild the retrieval index afterwards")
	return cmd
}

// ingestPaths ingests files directly and directories filtered by exts.
func ingestPaths(ctx context.Context, p *pipeline.Pipeline, paths []string, exts []string) ([]*pipeline.IngestResult, error) {
	var results []*pipeline.IngestResult
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return results, fmt.Errorf("failed to stat path: %w", err)
		}
		if info.IsDir() {
			rs, err := p.IngestDirectory(ctx, path, exts)
			results = append(results, rs...)
			if err != nil {
				return results, err
			}
			continue
		}
		// Single file: no extension filter
		res, err := p.IngestFile(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func buildIndex(ctx context.Context, w io.Writer, p *pipeline.Pipeline) error {
	start := time.Now()
	if err := p.Build(ctx); err != nil {
		return err
	}
	st, err := p.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Index built: %d chunks in %s\n", st.Index.Size, time.Since(start).Round(time.Millisecond))
	return nil
}

func newBuildCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild the retrieval index over every stored transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, p, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.logger.Sync()
			defer p.Close()
			return buildIndex(ctx, cmd.OutOrStdout(), p)
		},
	}
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var (
		serverURL string
		topK      int
		recallK   int
	)
	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Retrieve the transcript segments most relevant to a query",
		Example: `  koe query launch date
  koe query --top-k 5 --server "" "who owns the budget"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			q := joinArgs(args)
			if q == "" {
				return fmt.Errorf("query cannot be empty")
			}
			req := models.QueryRequest{Query: q, TopK: topK, RecallK: recallK}
			ctx := cmd.Context()

			var response *models.QueryResponse
			if serverURL != "" {
				// the server holds the index open
				response, err = newAPIClient(serverURL).Query(ctx, req)
				if err != nil {
					return err
				}
			} else {
				s, p, err := opts.open(ctx)
				if err != nil {
					return err
				}
				defer s.logger.Sync()
				defer p.Close()
				start := time.Now()
				hits, err := p.Query(ctx, req.Query, req.TopK, req.RecallK)
				if err != nil {
					return err
				}
				response = &models.QueryResponse{Query: q, Results: hits, QueryTime: time.Since(start).Milliseconds()}
			}
			return cli.WriteQueryResults(cmd.OutOrStdout(), response, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, `server URL (empty = open the local stores)`)
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().IntVar(&recallK, "recall-k", 0, "recall candidates before reranking (default from config)")
	return cmd
}

func newAnswerCmd(opts *globalOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "answer <question>...",
		Short: "Answer a question from the indexed transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			question := joinArgs(args)
			ctx := cmd.Context()

			var resp *models.AnswerResponse
			if serverURL != "" {
				resp, err = newAPIClient(serverURL).Answer(ctx, question)
			} else {
				s, p, openErr := opts.open(ctx)
				if openErr != nil {
					return openErr
				}
				defer s.logger.Sync()
				defer p.Close()
				resp, err = p.Answer(ctx, question)
			}
			if err != nil {
				return err
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, `server URL (empty = open the local stores)`)
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store counts, index freshness and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var st *pipeline.Status
			if serverURL != "" {
				st, _, err = newAPIClient(serverURL).Status(ctx)
			} else {
				s, p, openErr := opts.open(ctx)
				if openErr != nil {
					return openErr
				}
				defer s.logger.Sync()
				defer p.Close()
				st, err = p.Status(ctx)
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, `server URL (empty = open the local stores)`)
	return cmd
}

func newWatchCmd(_ *globalOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the transcript directories watched by the server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <path>",
			Short: "Add a directory to watch and ingest the transcripts already in it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := newAPIClient(serverURL).WatchAdd(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <path>",
			Short: "Stop watching a directory; its transcripts stay indexed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := newAPIClient(serverURL).WatchRemove(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List watched directories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				dirs, err := newAPIClient(serverURL).WatchList(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range dirs {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			},
		},
	)
	return cmd
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/IliaW/content-overlay/internal/aws_s3"
	cacheClient "github.com/IliaW/content-overlay/internal/cache"
	"github.com/IliaW/content-overlay/internal/crawler"
	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/navigation"
	"github.com/IliaW/content-overlay/internal/report"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

func newExtractCmd() *cobra.Command {
	var resolve, follow bool

	cmd := &cobra.Command{
		Use:   "extract <url>...",
		Short: "Print the content identity of each URL",
		Long: "Prints the content identity of each URL. With --follow the URLs are read from stdin " +
			"as one browsing session (a line \"back\" goes back one entry) and only identity changes are printed.",
		Args: func(cmd *cobra.Command, args []string) error {
			if follow {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := extractor.Default()
			var reader discovery.AttributeReader
			var cache cacheClient.CachedClient
			if resolve {
				r, err := crawler.NewAttributeReader(cfg, getHttpTransport())
				if err != nil {
					return err
				}
				reader = r
				cache = cacheClient.NewCachedClient(cfg.CacheSettings)
				defer cache.Close()
			}
			resolveID := func(raw string) string { return resolveCourseID(cmd, reader, cache, raw) }

			if follow {
				if !resolve {
					resolveID = nil
				}
				return followURLs(cmd.InOrStdin(), cmd.OutOrStdout(), registry, resolveID)
			}
			for _, raw := range args {
				info, ok := registry.Extract(raw)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tnot recognized\n", raw)
					continue
				}
				if resolve && info.Platform == model.Udemy && info.ID == "" {
					info.ID = resolveID(raw)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, info)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resolve, "resolve", false, "read Udemy course ids from the course page")
	cmd.Flags().BoolVar(&follow, "follow", false, "read a browsing session from stdin")

	return cmd
}

// followURLs replays a browsing session through the navigation watcher and
// prints every identity change. resolveID may be nil.
func followURLs(in io.Reader, out io.Writer, registry *extractor.Registry, resolveID func(string) string) error {
	host := navigation.NewMemoryHost("about:blank")
	var current model.ContentInfo
	watcher := navigation.New(host, func(raw string) {
		info, _ := registry.Extract(raw)
		if resolveID != nil && info.Platform == model.Udemy && info.CrawlType == model.Course && info.ID == "" {
			info.ID = resolveID(raw)
		}
		if info == current {
			return
		}
		current = info
		fmt.Fprintf(out, "%s\t%s\n", raw, info)
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
		case "back":
			host.Back()
		default:
			host.PushState(line)
		}
	}
	return scanner.Err()
}

func resolveCourseID(cmd *cobra.Command, reader discovery.AttributeReader, cache discovery.CourseCache,
	pageURL string) string {
	bus := discovery.NewBus()
	found := make(chan string, 1)
	unsubscribe := bus.Subscribe(model.Udemy, func(d discovery.Discovery) {
		select {
		case found <- d.ID:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := withTimeout(cmd.Context(), cfg.HttpClientSettings.RequestTimeout)
	defer cancel()
	discovery.NewProber(reader, bus, cache, cfg.DiscoverySettings.ProbeInterval).Probe(ctx, pageURL)
	select {
	case id := <-found:
		return id
	default:
		return ""
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the processing status of a content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newServiceClient()
			ctx, cancel := withTimeout(cmd.Context(), cfg.HttpClientSettings.RequestTimeout)
			defer cancel()

			res, err := client.TaskStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status:\t%s\n", res.Status)
			if res.TaskID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "task:\t%s\n", res.TaskID)
			}
			if res.Status == model.StatusAnalyzed {
				fmt.Fprintf(cmd.OutOrStdout(), "analysis:\t%s\n", client.AnalysisURL(args[0]))
				fmt.Fprintf(cmd.OutOrStdout(), "export:\t%s\n", client.ExportURL(args[0]))
			}
			return nil
		},
	}
}

func newReportCmd() *cobra.Command {
	var start, end string
	var only []string
	var none, dryRun bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Create one analysis over previously crawled items",
		Long: "Loads all analysis items, selects them all (or only the ones given with --only), " +
			"applies the optional time range and creates one ANALYZE task.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newServiceClient()
			ctx, cancel := withTimeout(cmd.Context(), cfg.HttpClientSettings.RequestTimeout)
			defer cancel()

			builder := report.New(client, telemetry.Discard().AppMetrics)
			if err := builder.Open(ctx); err != nil {
				return err
			}
			if none || len(only) > 0 {
				builder.SetAll(false)
			}
			for _, key := range only {
				if err := selectItem(builder, key); err != nil {
					return err
				}
			}
			if start != "" || end != "" {
				from, err := parseTime(start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				to, err := parseTime(end)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				if err := builder.SetTimeRange(from, to); err != nil {
					return err
				}
			}

			if dryRun {
				payload, err := builder.Request()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "contentIds:\t%s\nprofileIds:\t%s\nstart:\t%s\nend:\t%s\n",
					strings.Join(payload.AnalyzeConfig.ContentIDs, ","),
					strings.Join(payload.AnalyzeConfig.ProfileIDs, ","),
					payload.AnalyzeConfig.StartTime, payload.AnalyzeConfig.EndTime)
				return nil
			}
			sub, err := builder.Submit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task:\t%s\nanalysis:\t%s\n", sub.TaskID, sub.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "range start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "range end (RFC 3339)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "select only these items (PLATFORM:TYPE:ID or bare id)")
	cmd.Flags().BoolVar(&none, "none", false, "start with no item selected")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the request instead of sending it")

	return cmd
}

// selectItem accepts a full item key or a bare id matching exactly one item.
func selectItem(b *report.Builder, key string) error {
	var matches []string
	for _, item := range b.Items() {
		if item.Key() == key {
			matches = []string{key}
			break
		}
		if item.ID == key {
			matches = append(matches, item.Key())
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("no analysis item %q", key)
	case 1:
		b.Toggle(matches[0], true)
		return nil
	default:
		return fmt.Errorf("id %q is ambiguous: %s", key, strings.Join(matches, ", "))
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("both --start and --end are required for a range")
	}
	return time.Parse(time.RFC3339, s)
}

func newExportCmd() *cobra.Command {
	var out string
	var archive bool

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Download the export of an analyzed content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newServiceClient()
			ctx, cancel := withTimeout(cmd.Context(), cfg.HttpClientSettings.RequestTimeout)
			defer cancel()

			body, contentType, err := client.DownloadExport(ctx, args[0])
			if err != nil {
				return err
			}
			if archive {
				key, err := aws_s3.NewS3BucketClient(cfg).WriteExport(ctx, args[0], body, contentType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "archived:\ts3://%s/%s\n", cfg.S3Settings.BucketName, key)
			}
			switch out {
			case "":
				if !archive {
					_, err = cmd.OutOrStdout().Write(body)
				}
			default:
				err = os.WriteFile(out, body, 0o644)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "saved:\t%s (%d bytes)\n", out, len(body))
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the export to this file")
	cmd.Flags().BoolVar(&archive, "archive", false, "archive the export to S3")

	return cmd
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placecrawl/internal/crawler"
	"github.com/sells-group/placecrawl/internal/geo"
	"github.com/sells-group/placecrawl/pkg/places"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl a bounding box for places",
	Long: `Crawl subdivides the target bounding box into a grid, requests each cell
from the place search API, and refines any cell whose response comes back
near the page-size cap. Results are deduplicated by provider ID.

The target comes from --region (west,south,east,north) or from the bounding
box of a shapefile. An interrupted crawl can be picked up with --resume-from
and the cell address printed by the previous run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		region, err := crawlTarget(cmd)
		if err != nil {
			return err
		}

		var resume crawler.Address
		if raw, _ := cmd.Flags().GetString("resume-from"); raw != "" {
			resume, err = crawler.ParseAddress(raw)
			if err != nil {
				return err
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var clientOpts []places.Option
		if cfg.Places.BaseURL != "" {
			clientOpts = append(clientOpts, places.WithBaseURL(cfg.Places.BaseURL))
		}
		client := places.NewClient(cfg.Places.AppID, cfg.Places.AppCode, clientOpts...)

		crawlCfg, err := crawlConfig(cmd)
		if err != nil {
			return err
		}

		c := crawler.New(client, st, crawlCfg, crawler.WithProgress(printProgress))

		zap.L().Info("starting crawl",
			zap.String("region", region.String()),
			zap.String("resume_from", resume.String()),
		)

		if err := c.Crawl(ctx, region, resume); err != nil {
			totals := c.Counters()
			fmt.Fprintf(os.Stderr, "crawl aborted after %d requests; %d places stored\n",
				totals.Requests, totals.Inserted)
			return eris.Wrap(err, "crawl")
		}

		totals := c.Counters()
		fmt.Printf("crawl complete: %d requests, %d results, %d new places\n",
			totals.Requests, totals.Encountered, totals.Inserted)
		return nil
	},
}

func init() {
	crawlCmd.Flags().String("region", "", "bounding box as west,south,east,north")
	crawlCmd.Flags().String("shapefile", "", "shapefile whose bounding box is the crawl target")
	crawlCmd.Flags().String("resume-from", "", "cell address to resume at (e.g. 0,2)")
	crawlCmd.Flags().String("categories", "", "comma-separated provider category IDs")
	crawlCmd.Flags().Int("max-depth", 0, "subdivision depth limit (default from config)")
	crawlCmd.Flags().Int("concurrency", 0, "sibling cells crawled in parallel (default from config)")
	crawlCmd.MarkFlagsMutuallyExclusive("region", "shapefile")
	crawlCmd.MarkFlagsOneRequired("region", "shapefile")
	rootCmd.AddCommand(crawlCmd)
}

// crawlTarget resolves the bounding box from --region or --shapefile.
func crawlTarget(cmd *cobra.Command) (geo.Region, error) {
	if path, _ := cmd.Flags().GetString("shapefile"); path != "" {
		return geo.FromShapefile(path)
	}
	raw, _ := cmd.Flags().GetString("region")
	return parseRegion(raw)
}

// parseRegion parses the west,south,east,north form used by --region and
// the progress output.
func parseRegion(s string) (geo.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Region{}, eris.Errorf("region must have 4 coordinates, got %d", len(parts))
	}
	coords := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Region{}, eris.Wrapf(err, "invalid coordinate %q", p)
		}
		coords[i] = v
	}
	return geo.NewRegion(coords[0], coords[1], coords[2], coords[3])
}

// crawlConfig merges the config file with command-line overrides.
func crawlConfig(cmd *cobra.Command) (crawler.Config, error) {
	out := crawler.Config{
		GridRows:    cfg.Crawl.GridRows,
		GridCols:    cfg.Crawl.GridCols,
		MaxRadiusKM: cfg.Crawl.MaxRadiusKM,
		PageSize:    cfg.Places.PageSize,
		Categories:  cfg.Places.Categories,
		MaxDepth:    cfg.Crawl.MaxDepth,
		RateLimit:   cfg.Crawl.RateLimit,
		Concurrency: cfg.Crawl.Concurrency,
	}

	if raw, _ := cmd.Flags().GetString("categories"); raw != "" {
		out.Categories = splitAndTrim(raw)
	}
	if v, _ := cmd.Flags().GetInt("max-depth"); v > 0 {
		out.MaxDepth = v
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
		out.Concurrency = v
	}
	return out, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printProgress writes one line per leaf so an interrupted run leaves the
// resume address on screen.
func printProgress(r crawler.Report) {
	addr := r.Address.String()
	if addr == "" {
		addr = "root"
	}
	if r.Skipped {
		fmt.Printf("[%s] skipped\n", addr)
		return
	}
	fmt.Printf("[%s] %s: found %d, new %d (total: %d requests, %d places)\n",
		addr, r.Region, r.Found, r.New, r.Totals.Requests, r.Totals.Inserted)
}

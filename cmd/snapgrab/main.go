// Command snapgrab runs a single capture from the command line:
// launch a browser, capture one page or area, write the file, print
// one summary line.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pagesnap/pagesnap/browser"
	"github.com/pagesnap/pagesnap/capture"
	"github.com/pagesnap/pagesnap/geom"
	"github.com/pagesnap/pagesnap/pdfexport"
)

func main() {
	pageURL := flag.String("url", "", "page URL to capture (required)")
	out := flag.String("o", "page.png", "output file path")
	full := flag.Bool("full", true, "capture the full page")
	area := flag.String("area", "", "capture a rectangle: x,y,w,h in CSS px page coordinates")
	pdf := flag.Bool("pdf", false, "wrap the image in a single-page PDF")
	timeout := flag.Duration("timeout", 90*time.Second, "total capture timeout")
	remote := flag.String("browser", "", "WebSocket URL of a running Chrome (default: launch one)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "snapgrab: -url is required")
		flag.Usage()
		os.Exit(2)
	}

	req, err := buildRequest(*full, *area)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapgrab:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *pageURL, *out, req, *pdf, *timeout, *remote, logger); err != nil {
		fmt.Fprintln(os.Stderr, "snapgrab:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, pageURL, out string, req capture.Request, pdf bool, timeout time.Duration, remote string, logger *slog.Logger) error {
	mgr := browser.NewManager(browser.Config{
		RemoteURL: remote,
		Logger:    logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	tab, err := browser.Open(ctx, mgr, pageURL)
	if err != nil {
		return err
	}
	defer tab.Close()

	ctrl := capture.NewController(tab, tab, tab, capture.Config{
		TotalTimeout: timeout,
		Logger:       logger,
	})
	res, err := ctrl.Run(ctx, req)
	if err != nil {
		return err
	}

	data := res.Image
	if pdf {
		var buf bytes.Buffer
		if err := pdfexport.FromImage(&buf, res.Image); err != nil {
			return err
		}
		data = buf.Bytes()
		if filepath.Ext(out) != ".pdf" {
			out = strings.TrimSuffix(out, filepath.Ext(out)) + ".pdf"
		}
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	truncated := ""
	if res.Truncated {
		truncated = " (truncated)"
	}
	fmt.Printf("%s %dx%d %s %d segments in %s%s\n",
		out, res.Width, res.Height, humanize.Bytes(uint64(len(data))),
		res.Segments, res.Elapsed.Round(time.Millisecond), truncated)
	return nil
}

func buildRequest(full bool, area string) (capture.Request, error) {
	if area == "" {
		if !full {
			return nil, fmt.Errorf("nothing to capture: -full=false and no -area")
		}
		return capture.FullPageRequest{}, nil
	}

	parts := strings.Split(area, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid -area %q: want x,y,w,h", area)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid -area %q: %w", area, err)
		}
		vals[i] = v
	}
	r := geom.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	if r.Empty() {
		return nil, fmt.Errorf("invalid -area %q: width and height must be positive", area)
	}
	return capture.AreaRequest{Rect: r}, nil
}

package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Guides print on A4 with half-inch margins. Sizes are in inches.
const (
	a4Width      = 8.27
	a4Height     = 11.69
	guideMargin  = 0.5
	printTimeout = 30 * time.Second

	maxFilenameLen = 50
)

var chromiumBinaries = []string{"chromium-browser", "chromium"}

func findChromium() (string, error) {
	for _, name := range chromiumBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}

// guideDataURL wraps the rendered guide so the browser can load it without a
// file on disk. Step images are already inline data URLs.
func guideDataURL(html string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}

// printGuidePDF prints the rendered guide through headless Chromium.
func printGuidePDF(parent context.Context, html, title string) (*Result, error) {
	chromium, err := findChromium()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, printTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromium),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(guideDataURL(html)),
		chromedp.WaitReady(".meta"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			pdf, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				WithMarginTop(guideMargin).
				WithMarginBottom(guideMargin).
				WithMarginLeft(guideMargin).
				WithMarginRight(guideMargin).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print guide: %w", err)
	}

	return &Result{
		Data:     pdf,
		Filename: guideFilename(title, "pdf"),
		MimeType: "application/pdf",
	}, nil
}

// guideFilename builds a download name from the guide title, keeping ASCII
// letters, digits, '-' and '_' and turning spaces into dashes.
func guideFilename(title, ext string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
		if b.Len() == maxFilenameLen {
			break
		}
	}
	base := b.String()
	if base == "" {
		base = "sop-guide"
	}
	return base + "." + ext
}

package providers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ShellExtractor implements DocumentExtractor with pdftotext and
// libreoffice. Slide decks are converted to PDF first, then rendered with
// pdftoppm.
type ShellExtractor struct {
	// WorkDir holds intermediate conversions; defaults to the system temp dir.
	WorkDir string
}

func (e *ShellExtractor) workDir() string {
	if e.WorkDir != "" {
		return e.WorkDir
	}
	return os.TempDir()
}

func (e *ShellExtractor) ExtractPDF(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed for %s: %w", path, err)
	}
	return string(out), nil
}

func (e *ShellExtractor) slidesToPDF(ctx context.Context, path string) (string, error) {
	outDir, err := os.MkdirTemp(e.workDir(), "slides-*")
	if err != nil {
		return "", fmt.Errorf("failed to create conversion dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("libreoffice conversion failed for %s: %w (%s)", path, err, strings.TrimSpace(string(out)))
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pdf := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("converted pdf missing for %s: %w", path, err)
	}
	return pdf, nil
}

func (e *ShellExtractor) ExtractSlides(ctx context.Context, path string) ([]string, error) {
	pdf, err := e.slidesToPDF(ctx, path)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(pdf))

	text, err := e.ExtractPDF(ctx, pdf)
	if err != nil {
		return nil, err
	}
	var slides []string
	for _, page := range strings.Split(text, "\f") {
		page = strings.TrimSpace(page)
		if page != "" {
			slides = append(slides, page)
		}
	}
	return slides, nil
}

func (e *ShellExtractor) ConvertSlidesToImages(ctx context.Context, path, outDir string) ([]string, error) {
	pdf, err := e.slidesToPDF(ctx, path)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(pdf))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}
	prefix := filepath.Join(outDir, "slide")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", "150", pdf, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed for %s: %w (%s)", path, err, strings.TrimSpace(string(out)))
	}
	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered slides: %w", err)
	}
	// pdftoppm zero-pads page numbers, lexical order is page order.
	sort.Strings(matches)
	return matches, nil
}

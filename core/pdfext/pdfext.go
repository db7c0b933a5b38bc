// Package pdfext renders a born-digital PDF's pages to JPEG and extracts
// embedded text per page, for the ingest surface's text-PDF bypass path.
// Rasterization shells out to poppler-utils (pdftoppm/pdfinfo); text
// extraction walks the content stream with pdfcpu, avoiding a second
// external dependency for the part pdfcpu already does in pure Go.
package pdfext

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MaxBytes and MaxPages enforce the ingest surface's size caps for
// born-digital PDFs.
const (
	MaxBytes = 100 << 20
	MaxPages = 500
	pageDPI  = 150
)

// Page is one rasterized page plus its extracted text.
type Page struct {
	Seq     int
	ImageJPEG []byte
	Text    string
}

// CountPages shells out to pdfinfo to read the page count.
func CountPages(pdfPath string) (int, error) {
	cmd := exec.Command("pdfinfo", pdfPath)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w", err)
	}
	var pages int
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Pages:") {
			fmt.Sscanf(line, "Pages: %d", &pages)
			break
		}
	}
	if pages == 0 {
		return 0, fmt.Errorf("could not determine page count")
	}
	return pages, nil
}

// ExtractAll rasterizes every page of pdfPath to JPEG under a scratch
// directory and pairs each with its pdfcpu-extracted text. The caller owns
// cleanup of workDir.
func ExtractAll(pdfPath, workDir string) ([]Page, error) {
	pageCount, err := CountPages(pdfPath)
	if err != nil {
		return nil, err
	}
	if pageCount > MaxPages {
		return nil, fmt.Errorf("pdf has %d pages, exceeds cap of %d", pageCount, MaxPages)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	outputPrefix := filepath.Join(workDir, "page")
	cmd := exec.Command("pdftoppm",
		"-jpeg",
		"-r", fmt.Sprintf("%d", pageDPI),
		pdfPath,
		outputPrefix)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w", err)
	}

	texts, err := extractTextPerPage(pdfPath, pageCount)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, pageCount)
	for seq := 1; seq <= pageCount; seq++ {
		imagePath := findPageImage(workDir, seq)
		if imagePath == "" {
			return nil, fmt.Errorf("no rasterized image found for page %d", seq)
		}
		img, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read rasterized page %d: %w", seq, err)
		}
		pages = append(pages, Page{Seq: seq, ImageJPEG: img, Text: texts[seq-1]})
	}
	return pages, nil
}

// findPageImage locates pdftoppm's output for seq, trying both the
// 1-digit and zero-padded naming schemes it uses depending on page count.
func findPageImage(workDir string, seq int) string {
	for _, pattern := range []string{"page-%d.jpg", "page-%02d.jpg", "page-%03d.jpg"} {
		candidate := filepath.Join(workDir, fmt.Sprintf(pattern, seq))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// extractTextPerPage opens pdfPath with pdfcpu and pulls embedded text from
// each page's content stream.
func extractTextPerPage(pdfPath string, pageCount int) ([]string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	texts := make([]string, pageCount)
	for pageNr := 1; pageNr <= pageCount && pageNr <= ctx.PageCount; pageNr++ {
		texts[pageNr-1] = extractPageText(ctx, pageNr)
	}
	return texts, nil
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	if len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanText(sb.String())
}

func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

func cleanText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

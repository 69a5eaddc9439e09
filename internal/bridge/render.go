package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/botwire/botwire/internal/logging"
)

// RenderRequest describes one screenshot job.
type RenderRequest struct {
	// Source is a URL, a filesystem path, or (for SourceType "htmlString")
	// the path of the HTML file spilled to the render directory.
	Source string
	// SourceType is "url", "path", or "htmlString".
	SourceType string
	// ImageType is the output format: png, jpeg, or webp.
	ImageType string
}

// Renderer turns a render request into one or more encoded images. A real
// implementation delegates to an external rendering service; the default stub
// produces placeholder images so the render pipeline stays testable without
// one.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) ([][]byte, error)
}

// minimalPNG is a valid 1x1 transparent PNG.
var minimalPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// StubRenderer records requests and emits a placeholder image per call.
type StubRenderer struct{}

// NewStubRenderer returns the placeholder renderer.
func NewStubRenderer() *StubRenderer { return &StubRenderer{} }

// Render always succeeds with a single placeholder image.
func (s *StubRenderer) Render(ctx context.Context, req RenderRequest) ([][]byte, error) {
	return [][]byte{minimalPNG}, nil
}

var allowedImageTypes = map[string]bool{"png": true, "jpeg": true, "webp": true}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename reduces a caller-supplied name to a safe basename with the
// requested extension forced on.
func sanitizeFilename(name, ext string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = unsafeFilename.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "-" {
		name = fmt.Sprintf("render-%d", time.Now().UnixMilli())
	}
	want := "." + ext
	if !strings.HasSuffix(strings.ToLower(name), want) {
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		name += want
	}
	return name
}

// actionRenderScreenshot renders a URL, file path, or inline HTML string into
// image artifacts under the render directory.
func (b *Bridge) actionRenderScreenshot(ctx context.Context, data map[string]any) (any, *ActionError) {
	source := stringField(data, "file")
	if source == "" {
		return nil, errBadRequest("file is required")
	}

	sourceType := stringField(data, "file_type")
	if sourceType == "" {
		switch {
		case strings.HasPrefix(strings.TrimSpace(source), "<"):
			sourceType = "htmlString"
		case strings.Contains(source, "://"):
			sourceType = "url"
		default:
			sourceType = "path"
		}
	}
	switch sourceType {
	case "htmlString", "url", "path":
	default:
		return nil, errBadRequest(`file_type must be "htmlString", "url", or "path"`)
	}

	imageType := stringField(data, "type")
	if imageType == "" {
		imageType = "png"
	}
	if !allowedImageTypes[imageType] {
		return nil, errBadRequest(`type must be "png", "jpeg", or "webp"`)
	}

	filename := sanitizeFilename(stringField(data, "filename"), imageType)

	if err := os.MkdirAll(b.cfg.RenderDir, 0755); err != nil {
		return nil, errInternal("render dir unavailable: " + err.Error())
	}

	// Inline HTML is spilled next to the artifacts so the renderer (and a
	// curious operator) can open the exact document that was captured.
	if sourceType == "htmlString" {
		htmlName := strings.TrimSuffix(filename, "."+imageType) + ".html"
		htmlPath := filepath.Join(b.cfg.RenderDir, htmlName)
		if err := os.WriteFile(htmlPath, []byte(source), 0644); err != nil {
			return nil, errInternal("write html failed: " + err.Error())
		}
		source = htmlPath
	}

	images, err := b.renderer.Render(ctx, RenderRequest{
		Source:     source,
		SourceType: sourceType,
		ImageType:  imageType,
	})
	if err != nil {
		logging.Error().Err(err).Str("sourceType", sourceType).Msg("render failed")
		return nil, errInternal("render failed: " + err.Error())
	}
	if len(images) == 0 {
		return nil, errInternal("renderer produced no images")
	}

	files := make([]map[string]any, 0, len(images))
	for i, img := range images {
		name := filename
		if len(images) > 1 {
			base := strings.TrimSuffix(filename, "."+imageType)
			name = fmt.Sprintf("%s-%d.%s", base, i+1, imageType)
		}
		if err := os.WriteFile(filepath.Join(b.cfg.RenderDir, name), img, 0644); err != nil {
			return nil, errInternal("write image failed: " + err.Error())
		}
		files = append(files, map[string]any{
			"filename": name,
			"fileUrl":  b.fileURL(name),
		})
	}

	first := files[0]
	return map[string]any{
		"filename": first["filename"],
		"fileUrl":  first["fileUrl"],
		"files":    files,
		"count":    len(files),
	}, nil
}

// fileURL derives a public URL for a rendered artifact: the external hook
// when configured, otherwise the local /files/ route.
func (b *Bridge) fileURL(name string) string {
	if b.fileURLHook != nil {
		if url := b.fileURLHook(name); url != "" {
			return url
		}
	}
	return b.cfg.MCPPath + "/files/" + name
}

package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"path"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/goliatone/go-mailflow/core"
)

// MaxAttachmentBytes is the largest upload the ticket system accepts.
const MaxAttachmentBytes = 5_900_000

var blockedExtensions = map[string]struct{}{
	".bat": {}, ".cmd": {}, ".com": {}, ".dll": {}, ".exe": {},
	".js": {}, ".msi": {}, ".ps1": {}, ".scr": {}, ".vbs": {},
}

// DefaultAttachmentFilter drops executables and signature-sized images, then
// shrinks oversized items and skips anything still over MaxBytes.
type DefaultAttachmentFilter struct {
	MaxBytes       int
	MinImageWidth  int
	MinImageHeight int
	ResizeImages   bool
	Compress       bool
}

func NewAttachmentFilter(cfg core.AttachmentDefaults) DefaultAttachmentFilter {
	return DefaultAttachmentFilter{
		MaxBytes:       MaxAttachmentBytes,
		MinImageWidth:  cfg.MinImageWidth,
		MinImageHeight: cfg.MinImageHeight,
		ResizeImages:   cfg.ResizeLargeImages,
		Compress:       cfg.CompressLargeItems,
	}
}

func (f DefaultAttachmentFilter) Prepare(_ context.Context, attachment Attachment) (Attachment, bool, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = MaxAttachmentBytes
	}
	if _, blocked := blockedExtensions[strings.ToLower(path.Ext(attachment.Name))]; blocked {
		return attachment, false, nil
	}

	isImage := strings.HasPrefix(strings.ToLower(attachment.ContentType), "image/")
	if isImage {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(attachment.Content))
		if err == nil && (cfg.Width < f.MinImageWidth || cfg.Height < f.MinImageHeight) {
			return attachment, false, nil
		}
	}

	if len(attachment.Content) > limit && isImage && f.ResizeImages {
		resized, err := shrinkImage(attachment, limit)
		if err != nil {
			return attachment, false, err
		}
		attachment = resized
	}
	if len(attachment.Content) > limit && f.Compress {
		compressed, err := zipAttachment(attachment)
		if err != nil {
			return attachment, false, err
		}
		attachment = compressed
	}
	if len(attachment.Content) > limit {
		return attachment, false, nil
	}
	return attachment, true, nil
}

// shrinkImage halves the image until the JPEG encoding fits limit.
func shrinkImage(attachment Attachment, limit int) (Attachment, error) {
	src, _, err := image.Decode(bytes.NewReader(attachment.Content))
	if err != nil {
		return attachment, err
	}
	current := src
	for range 6 {
		bounds := current.Bounds()
		if bounds.Dx() < 2 || bounds.Dy() < 2 {
			break
		}
		current = halve(current)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, current, &jpeg.Options{Quality: 80}); err != nil {
			return attachment, err
		}
		if buf.Len() <= limit {
			out := attachment
			out.Content = buf.Bytes()
			out.ContentType = "image/jpeg"
			out.Name = strings.TrimSuffix(attachment.Name, path.Ext(attachment.Name)) + ".jpg"
			return out, nil
		}
	}
	return attachment, nil
}

func halve(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()/2, bounds.Dy()/2))
	for y := 0; y < dst.Rect.Dy(); y++ {
		for x := 0; x < dst.Rect.Dx(); x++ {
			dst.Set(x, y, src.At(bounds.Min.X+x*2, bounds.Min.Y+y*2))
		}
	}
	return dst
}

func zipAttachment(attachment Attachment) (Attachment, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entry, err := writer.Create(attachment.Name)
	if err != nil {
		return attachment, err
	}
	if _, err := entry.Write(attachment.Content); err != nil {
		return attachment, err
	}
	if err := writer.Close(); err != nil {
		return attachment, err
	}
	out := attachment
	out.Name = attachment.Name + ".zip"
	out.ContentType = "application/zip"
	out.Content = buf.Bytes()
	return out, nil
}

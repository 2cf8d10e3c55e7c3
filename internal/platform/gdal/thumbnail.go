package gdal

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// ThumbnailSize bounds both sides of a thumbnail in pixels.
const ThumbnailSize = 256

// previewSize is the long side of the intermediate image rendered by GDAL.
const previewSize = 1024

// Thumbnail renders src as a JPEG at dst no larger than size x size,
// preserving aspect ratio.
func (t *Tools) Thumbnail(ctx context.Context, src, dst string, size int) error {
	info, err := t.Inspect(ctx, src)
	if err != nil {
		return err
	}

	preview := dst + ".preview.png"
	defer func() {
		_ = t.fs.Remove(preview)
		_ = t.fs.Remove(preview + ".aux.xml")
	}()

	args := []string{"-of", "PNG", "-ot", "Byte"}
	if info.Size[0] >= info.Size[1] {
		args = append(args, "-outsize", fmt.Sprint(previewSize), "0")
	} else {
		args = append(args, "-outsize", "0", fmt.Sprint(previewSize))
	}
	if len(info.Bands) >= 3 {
		args = append(args, "-b", "1", "-b", "2", "-b", "3")
	} else {
		args = append(args, "-b", "1")
	}
	args = append(args, src, preview)

	if _, err := t.runner.Run(ctx, nil, t.paths.GdalTranslate, args...); err != nil {
		return err
	}

	in, err := t.fs.Open(preview)
	if err != nil {
		return fmt.Errorf("failed to open preview: %w", err)
	}
	img, err := imaging.Decode(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("failed to decode preview: %w", err)
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	out, err := t.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail: %w", err)
	}
	if err := imaging.Encode(out, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		_ = out.Close()
		_ = t.fs.Remove(dst)
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out.Close()
}

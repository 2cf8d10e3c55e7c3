package gdal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/spf13/afero"
)

// ErrNoCRS is returned when a raster has no coordinate reference system and
// therefore cannot be placed on the map.
var ErrNoCRS = errors.New("raster has no coordinate reference system")

// ErrInvalidRaster is returned when a converted file fails validation.
var ErrInvalidRaster = errors.New("raster failed validation")

// Paths names the executables.
type Paths struct {
	Gdalwarp      string
	GdalTranslate string
	Gdalinfo      string
	Gdaltransform string
	// Segmentation is a command line with {input} and {output} placeholders.
	Segmentation string
}

// DefaultPaths expects the tools on PATH.
func DefaultPaths() Paths {
	return Paths{
		Gdalwarp:      "gdalwarp",
		GdalTranslate: "gdal_translate",
		Gdalinfo:      "gdalinfo",
		Gdaltransform: "gdaltransform",
	}
}

// Tools wraps the raster tool chain.
type Tools struct {
	runner  Runner
	fs      afero.Fs
	paths   Paths
	threads string
}

// NewTools creates the tool chain. fs must view the same files the tools
// write, normally afero.NewOsFs().
func NewTools(runner Runner, fs afero.Fs, paths Paths, threads string) *Tools {
	if threads == "" {
		threads = "ALL_CPUS"
	}
	return &Tools{runner: runner, fs: fs, paths: paths, threads: threads}
}

// Info is the subset of `gdalinfo -json` the pipeline uses.
type Info struct {
	Driver           string     `json:"driverShortName"`
	Size             [2]int     `json:"size"`
	GeoTransform     []float64  `json:"geoTransform"`
	Bands            []infoBand `json:"bands"`
	CoordinateSystem *struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
	WGS84Extent *struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	} `json:"wgs84Extent"`
	Metadata map[string]map[string]string `json:"metadata"`
}

type infoBand struct {
	Block     [2]int     `json:"block"`
	Overviews []struct{} `json:"overviews"`
}

// HasCRS reports whether the raster is georeferenced.
func (i *Info) HasCRS() bool {
	return i.CoordinateSystem != nil && strings.TrimSpace(i.CoordinateSystem.WKT) != ""
}

// Compression returns the IMAGE_STRUCTURE compression, if reported.
func (i *Info) Compression() string {
	return i.Metadata["IMAGE_STRUCTURE"]["COMPRESSION"]
}

// OverviewCount is the number of overview levels of the first band.
func (i *Info) OverviewCount() int {
	if len(i.Bands) == 0 {
		return 0
	}
	return len(i.Bands[0].Overviews)
}

// Inspect runs `gdalinfo -json`.
func (t *Tools) Inspect(ctx context.Context, path string) (*Info, error) {
	out, err := t.runner.Run(ctx, nil, t.paths.Gdalinfo, "-json", path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to parse gdalinfo output for %s: %w", path, err)
	}
	return &info, nil
}

// Bounds returns the WGS84 extent of the raster. Rasters without a CRS
// yield ErrNoCRS.
func (t *Tools) Bounds(ctx context.Context, path string) (domain.BoundingBox, error) {
	info, err := t.Inspect(ctx, path)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	if !info.HasCRS() || info.WGS84Extent == nil || len(info.WGS84Extent.Coordinates) == 0 {
		return domain.BoundingBox{}, ErrNoCRS
	}

	ring := info.WGS84Extent.Coordinates[0]
	if len(ring) == 0 {
		return domain.BoundingBox{}, ErrNoCRS
	}
	box := domain.BoundingBox{Left: ring[0][0], Right: ring[0][0], Bottom: ring[0][1], Top: ring[0][1]}
	for _, p := range ring[1:] {
		box.Left = min(box.Left, p[0])
		box.Right = max(box.Right, p[0])
		box.Bottom = min(box.Bottom, p[1])
		box.Top = max(box.Top, p[1])
	}
	if err := box.Validate(); err != nil {
		return domain.BoundingBox{}, err
	}
	return box, nil
}

// Describe summarizes a raster for the geotiff info record.
func (t *Tools) Describe(ctx context.Context, path string) (*domain.GeoTiffInfo, error) {
	info, err := t.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	d := &domain.GeoTiffInfo{
		Driver:        info.Driver,
		Width:         info.Size[0],
		Height:        info.Size[1],
		BandCount:     len(info.Bands),
		OverviewCount: info.OverviewCount(),
		Compression:   info.Compression(),
	}
	if len(info.Bands) > 0 {
		d.BlockWidth = info.Bands[0].Block[0]
		d.BlockHeight = info.Bands[0].Block[1]
	}
	if info.HasCRS() {
		d.CRS = info.CoordinateSystem.WKT
	}
	return d, nil
}

// Warp rewrites src into a tiled, DEFLATE-compressed GeoTIFF at dst.
func (t *Tools) Warp(ctx context.Context, src, dst string) error {
	args := []string{
		"-of", "GTiff",
		"-co", "COMPRESS=DEFLATE",
		"-co", "PREDICTOR=2",
		"-co", "TILED=YES",
		"-co", "BLOCKXSIZE=512",
		"-co", "BLOCKYSIZE=512",
		"-co", "BIGTIFF=YES",
		"-wo", "NUM_THREADS=" + t.threads,
		"-multi",
		"-overwrite",
		src, dst,
	}
	logger.FromContext(ctx).DebugContext(ctx, "running gdalwarp", slog.String("src", src), slog.String("dst", dst))
	_, err := t.runner.Run(ctx, nil, t.paths.Gdalwarp, args...)
	return err
}

// Validate checks that gdalinfo can read path without errors.
func (t *Tools) Validate(ctx context.Context, path string) error {
	out, err := t.runner.Run(ctx, nil, t.paths.Gdalinfo, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRaster, err)
	}
	report := string(out)
	if strings.Contains(report, "ERROR") || strings.Contains(report, "FAILURE") {
		return fmt.Errorf("%w: gdalinfo reported errors for %s", ErrInvalidRaster, path)
	}
	return nil
}

// CogBlocksize is the internal tile size of generated COGs.
const CogBlocksize = 512

// Cog builds a cloud-optimized GeoTIFF from src at dst. It returns the
// compression used.
func (t *Tools) Cog(ctx context.Context, src, dst string, opts domain.ProcessOptions) (string, error) {
	info, err := t.Inspect(ctx, src)
	if err != nil {
		return "", err
	}

	compression := strings.ToUpper(opts.Profile)
	if opts.Profile == "raw" {
		compression = "NONE"
	}

	args := []string{"-of", "COG"}
	// JPEG cannot store an alpha band, so it becomes the mask.
	if opts.Profile == "jpeg" && len(info.Bands) == 4 {
		args = append(args, "-b", "1", "-b", "2", "-b", "3", "-mask", "4")
	}
	args = append(args,
		"-co", "COMPRESS="+compression,
		"-co", "BLOCKSIZE="+strconv.Itoa(CogBlocksize),
		"-co", "OVERVIEWS=IGNORE_EXISTING",
		"-co", "BIGTIFF=IF_SAFER",
		"-co", "NUM_THREADS="+t.threads,
	)
	if opts.Profile == "jpeg" || opts.Profile == "webp" {
		args = append(args, "-co", "QUALITY="+strconv.Itoa(opts.Quality))
	}
	if opts.TilingScheme == domain.TilingWebOptimized {
		args = append(args, "-co", "TILING_SCHEME=GoogleMapsCompatible")
	}
	args = append(args, src, dst)

	if _, err := t.runner.Run(ctx, nil, t.paths.GdalTranslate, args...); err != nil {
		return "", err
	}
	return strings.ToLower(compression), nil
}
